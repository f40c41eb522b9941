package blocklist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source is a place blocked domains are loaded from.
type Source struct {
	Path string // local file
	URL  string // http(s) URL
}

func (s Source) String() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// yamlList is the structured form accepted for .yaml/.yml sources.
type yamlList struct {
	Domains []string `yaml:"domains"`
}

// Fetch reads and parses one source.
func Fetch(ctx context.Context, client *http.Client, src Source) ([]string, error) {
	switch {
	case src.URL != "":
		return fetchURL(ctx, client, src.URL)
	case src.Path != "":
		return readFile(src.Path)
	default:
		return nil, fmt.Errorf("blocklist source has neither path nor url")
	}
}

func readFile(path string) ([]string, error) {
	clean := filepath.Clean(path)
	f, err := os.Open(clean)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if isYAML(clean) {
		return parseYAML(f)
	}
	return ParseList(f)
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode)
	}
	if isYAML(url) {
		return parseYAML(resp.Body)
	}
	return ParseList(resp.Body)
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func parseYAML(r io.Reader) ([]string, error) {
	var l yamlList
	if err := yaml.NewDecoder(r).Decode(&l); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse yaml blocklist: %w", err)
	}
	return l.Domains, nil
}

// ParseList reads a hosts-style, adblock-style or plain domain list. Blank lines and
// lines starting with '#' or '!' are skipped.
func ParseList(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		out = append(out, parseLine(line)...)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read blocklist at line %d: %w", lineNum, err)
	}
	return out, nil
}

// parseLine extracts the domains from "0.0.0.0 a.example b.example", "||domain^$opts"
// or "domain". Adblock exception rules ("@@") are skipped.
func parseLine(line string) []string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	if net.ParseIP(fields[0]) != nil {
		var out []string
		for _, f := range fields[1:] {
			if !localName(f) {
				out = append(out, f)
			}
		}
		return out
	}

	d := fields[0]
	if strings.HasPrefix(d, "@@") {
		return nil
	}
	d = strings.TrimPrefix(d, "||")
	if i := strings.IndexByte(d, '$'); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, "^")
	if d == "" || localName(d) || net.ParseIP(d) != nil {
		return nil
	}
	return []string{d}
}

func localName(d string) bool {
	switch d {
	case "localhost", "localhost.localdomain", "local", "broadcasthost", "ip6-localhost", "ip6-loopback":
		return true
	}
	return false
}
