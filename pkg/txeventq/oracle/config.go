package oracle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goora "github.com/sijms/go-ora/v2"
)

var ErrAliasNotFound = errors.New("tns alias not found")

// Config locates the database that hosts the queue. ConnString, when set, is
// a complete go-ora URL and wins over the TNS settings.
type Config struct {
	ConnString   string `mapstructure:"connString"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	TNSAlias     string `mapstructure:"tnsAlias"`
	TNSNamesPath string `mapstructure:"tnsNamesPath"`
	WalletPath   string `mapstructure:"walletPath"`
}

// DSN builds the go-ora connection URL.
func (c Config) DSN() (string, error) {
	if c.ConnString != "" {
		return c.ConnString, nil
	}
	if c.TNSAlias == "" {
		return "", errors.New("either connString or tnsAlias must be set")
	}

	descriptor, err := LookupAlias(c.TNSNamesPath, c.TNSAlias)
	if err != nil {
		return "", err
	}

	options := map[string]string{}
	if c.WalletPath != "" {
		options["WALLET"] = c.WalletPath
		if c.User == "" {
			options["AUTH TYPE"] = "TCPS"
		}
	}
	return goora.BuildJDBC(c.User, c.Password, descriptor, options), nil
}

// LookupAlias returns the connect descriptor of alias from a tnsnames.ora
// file. path may name the file or the directory holding it.
func LookupAlias(path, alias string) (string, error) {
	if path == "" {
		path = os.Getenv("TNS_ADMIN")
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, "tnsnames.ora")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open tnsnames: %w", err)
	}
	defer f.Close()

	entries, err := parseTNSNames(f)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	d, ok := entries[strings.ToUpper(alias)]
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrAliasNotFound, alias, path)
	}
	return d, nil
}

// parseTNSNames reads NAME[,NAME...] = (DESCRIPTION=...) entries. Comments
// start with # and descriptors may span lines.
func parseTNSNames(r io.Reader) (map[string]string, error) {
	var sb strings.Builder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		sb.WriteString(line)
		sb.WriteByte(' ')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	entries := make(map[string]string)
	text := sb.String()
	for {
		eq := strings.IndexByte(text, '=')
		if eq < 0 {
			break
		}
		names := strings.TrimSpace(text[:eq])
		rest := text[eq+1:]

		start := strings.IndexByte(rest, '(')
		if start < 0 {
			return nil, fmt.Errorf("entry %q has no descriptor", names)
		}
		depth, end := 0, -1
		for i := start; i < len(rest); i++ {
			switch rest[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, fmt.Errorf("entry %q has unbalanced parentheses", names)
		}

		descriptor := strings.Join(strings.Fields(rest[start:end+1]), "")
		for _, n := range strings.Split(names, ",") {
			if n = strings.TrimSpace(n); n != "" {
				entries[strings.ToUpper(n)] = descriptor
			}
		}
		text = rest[end+1:]
	}
	return entries, nil
}
