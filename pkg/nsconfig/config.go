// Package nsconfig parses the line-oriented configuration file of spec.md
// §6: comments, blank lines, LoadPlugin directives, and key/value pairs
// offered to every registered factory.
package nsconfig

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nslog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
)

var logger = nslog.Get("nsconfig")

// Directive is one parsed non-comment, non-blank config line.
type Directive struct {
	Line   int
	Plugin bool // true for LoadPlugin <symbol> <path>
	Symbol string
	Path   string
	Key    string
	Value  string
}

// Parse reads r line by line, per spec.md §6: "`# comment`, blank,
// `LoadPlugin <symbol> <path>`, or `<key> <value>`".
func Parse(r io.Reader) ([]Directive, error) {
	var out []Directive
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == "LoadPlugin" {
			if len(fields) != 3 {
				return nil, nserr.New(nserr.InvalidArgument, fmt.Sprintf("line %d: malformed LoadPlugin directive", lineNo))
			}
			out = append(out, Directive{Line: lineNo, Plugin: true, Symbol: fields[1], Path: fields[2]})
			continue
		}
		if len(fields) < 2 {
			return nil, nserr.New(nserr.InvalidArgument, fmt.Sprintf("line %d: malformed config line %q", lineNo, line))
		}
		out = append(out, Directive{Line: lineNo, Key: fields[0], Value: strings.Join(fields[1:], " ")})
	}
	if err := sc.Err(); err != nil {
		return nil, nserr.Wrap(nserr.Internal, "reading config", err)
	}
	return out, nil
}

// Apply replays directives against pm: LoadPlugin dlopen()s a shared
// object; every other pair is offered to every registered factory via
// pm.Configure, which fails with kUnknownOption if nothing recognises it.
func Apply(pm *nsplugin.PluginManager, directives []Directive) error {
	for _, d := range directives {
		if d.Plugin {
			if err := pm.LoadPlugin(d.Path, d.Symbol); err != nil {
				return nserr.Wrap(nserr.Internal, fmt.Sprintf("line %d", d.Line), err)
			}
			continue
		}
		if err := pm.Configure(d.Key, d.Value); err != nil {
			return nserr.Wrap(nserr.UnknownOption, fmt.Sprintf("line %d: %s", d.Line, d.Key), err)
		}
		logger.Debugf("configured %s=%s (line %d)", d.Key, d.Value, d.Line)
	}
	return nil
}

// Decode maps a flat key/value set (typically the subset of Directives a
// single factory consumed) onto a typed options struct via
// mitchellh/mapstructure, for factories that want strongly-typed config
// instead of hand-rolled switch statements per key.
func Decode(values map[string]string, out interface{}) error {
	generic := make(map[string]interface{}, len(values))
	for k, v := range values {
		generic[k] = v
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "config",
	})
	if err != nil {
		return nserr.Wrap(nserr.Internal, "building decoder", err)
	}
	if err := dec.Decode(generic); err != nil {
		return nserr.Wrap(nserr.InvalidArgument, "decoding config", err)
	}
	return nil
}
