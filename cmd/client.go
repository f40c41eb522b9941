package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/hostguard/internal/command"
)

// ClientInterface is the daemon control surface used by commands. *command.UDSClient
// implements it.
type ClientInterface interface {
	BlocklistAdd(ctx context.Context, domains ...string) (*command.Response, error)
	BlocklistRemove(ctx context.Context, domains ...string) (*command.Response, error)
	BlocklistContains(ctx context.Context, domains ...string) (*command.Response, error)
	BlocklistList(ctx context.Context) (*command.Response, error)
	BlocklistClear(ctx context.Context) (*command.Response, error)
	BlocklistReload(ctx context.Context) (*command.Response, error)
	EngineStart(ctx context.Context) (*command.Response, error)
	EngineStop(ctx context.Context) (*command.Response, error)
	EngineStatus(ctx context.Context) (*command.Response, error)
	ConfigReload(ctx context.Context) (*command.Response, error)
	DaemonStatus(ctx context.Context) (*command.Response, error)
	DaemonShutdown(ctx context.Context) (*command.Response, error)
}

var cli ClientInterface

// SetClient injects a client, used by tests.
func SetClient(c ClientInterface) {
	cli = c
}

// GetClient returns the injected client, or a UDS client for --socket.
func GetClient() ClientInterface {
	if cli != nil {
		return cli
	}
	return command.NewUDSClient(socketPath, requestTimeout)
}

// decodeResult checks resp for a daemon error and decodes its result into out.
func decodeResult(resp *command.Response, out interface{}) error {
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(resp.Result); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	return nil
}
