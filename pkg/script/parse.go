package script

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nornic-labs/boltkit/pkg/bolt"
	"github.com/nornic-labs/boltkit/pkg/packstream"
)

// Parse reads a script from source text, following the stub scripting
// grammar: each line is `role: tag fields...` where role is `!`, `C` or
// `S`; a line with no role inherits the previous line's role so a
// multi-line block of `C:`/`S:` messages doesn't need to repeat it.
func Parse(source string) (*Script, error) {
	return parseLines(strings.NewReader(source), "")
}

// Load reads and parses a script file from disk.
func Load(r io.Reader, filename string) (*Script, error) {
	return parseLines(r, filename)
}

func parseLines(r io.Reader, filename string) (*Script, error) {
	s := &Script{
		Filename: filename,
		Auto:     make(map[string]bool),
		Version:  bolt.Version{Major: 1, Minor: 0},
	}

	scanner := bufio.NewScanner(r)
	lastRole := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		role, tag, fields, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrParse, lineNo, err)
		}
		if tag == "" {
			continue
		}
		if role != "" {
			lastRole = role
		} else {
			role = lastRole
		}

		switch role {
		case "!":
			if err := applyMeta(s, tag, fields); err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrParse, lineNo, err)
			}
		case "C":
			s.Lines = append(s.Lines, ClientMessageLine{baseLine{lineNo}, tag, fields})
		case "S":
			line, err := serverLine(lineNo, tag, fields)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrParse, lineNo, err)
			}
			s.Lines = append(s.Lines, line)
		default:
			return nil, fmt.Errorf("%w: line %d: unknown role %q", ErrParse, lineNo, role)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("script: reading source: %w", err)
	}
	return s, nil
}

func serverLine(lineNo int, tag string, fields []any) (Line, error) {
	if strings.HasPrefix(tag, "<") && strings.HasSuffix(tag, ">") {
		switch tag {
		case "<EXIT>":
			return ServerExitLine{baseLine{lineNo}}, nil
		case "<RAW>":
			data, err := decodeHexFields(fields)
			if err != nil {
				return nil, err
			}
			return ServerRawBytesLine{baseLine{lineNo}, data}, nil
		case "<SLEEP>":
			if len(fields) != 1 {
				return nil, fmt.Errorf("<SLEEP> takes exactly one field")
			}
			seconds, ok := toFloat(fields[0])
			if !ok {
				return nil, fmt.Errorf("<SLEEP> field must be numeric, got %v", fields[0])
			}
			return ServerSleepLine{baseLine{lineNo}, seconds}, nil
		default:
			return nil, fmt.Errorf("unknown server command %q", tag)
		}
	}
	return ServerMessageLine{baseLine{lineNo}, tag, fields}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func applyMeta(s *Script, tag string, fields []any) error {
	switch tag {
	case "AUTO":
		if len(fields) != 1 {
			return fmt.Errorf("AUTO takes exactly one field")
		}
		name, ok := fields[0].(string)
		if !ok {
			return fmt.Errorf("AUTO field must be a string, got %v", fields[0])
		}
		s.Auto[name] = true
	case "BOLT", "NEO4J":
		if len(fields) != 1 {
			return fmt.Errorf("%s takes exactly one field", tag)
		}
		v, err := parseVersionField(fields[0])
		if err != nil {
			return err
		}
		s.Version = v
	case "HANDSHAKE":
		data, err := decodeHexFields(fields)
		if err != nil {
			return err
		}
		s.HandshakeData = data
	case "PORT":
		if len(fields) != 1 {
			return fmt.Errorf("PORT takes exactly one field")
		}
		port, ok := toFloat(fields[0])
		if !ok {
			return fmt.Errorf("PORT field must be numeric, got %v", fields[0])
		}
		s.Port = int(port)
	default:
		return fmt.Errorf("unknown meta tag %q", tag)
	}
	return nil
}

func parseVersionField(field any) (bolt.Version, error) {
	str := fmt.Sprintf("%v", field)
	parts := strings.SplitN(str, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return bolt.Version{}, fmt.Errorf("bad version %q: %w", str, err)
	}
	minor := 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return bolt.Version{}, fmt.Errorf("bad version %q: %w", str, err)
		}
	}
	return bolt.Version{Major: byte(major), Minor: byte(minor)}, nil
}

func decodeHexFields(fields []any) ([]byte, error) {
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf("%v", f))
	}
	hexStr := strings.ReplaceAll(sb.String(), " ", "")
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("bad hex data %q: %w", hexStr, err)
	}
	return data, nil
}

// parseLine splits one source line into role, tag and JSON-decoded fields,
// per the grammar: `role: tag field field...` with role and the `:`
// omittable, in which case the previous line's role carries over.
func parseLine(line string) (role, tag string, fields []any, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "//") {
		return "", "", nil, nil
	}

	head, rest := splitTwo(line)
	if strings.HasSuffix(head, ":") {
		role = strings.TrimSuffix(head, ":")
		head, rest = splitTwo(rest)
	}
	tag = head

	dec := json.NewDecoder(strings.NewReader(rest))
	dec.UseNumber()
	for {
		var v any
		if derr := dec.Decode(&v); derr != nil {
			if derr == io.EOF {
				break
			}
			// Not valid JSON from here on: treat the remainder as a single
			// opaque string field (the <RAW>/<HANDSHAKE> hex-digit case).
			remainder := strings.TrimSpace(rest[consumedOffset(dec, rest):])
			if remainder != "" {
				fields = append(fields, remainder)
			}
			break
		}
		fields = append(fields, normalizeJSON(v))
	}
	return role, tag, fields, nil
}

// consumedOffset reports how many bytes of src the decoder has consumed so
// far, so the unparsable remainder can be recovered as a raw token.
func consumedOffset(dec *json.Decoder, src string) int {
	off := int(dec.InputOffset())
	if off < 0 || off > len(src) {
		return 0
	}
	return off
}

// normalizeJSON converts json.Number into an int64 or float64 based on its
// literal text, matching PackStream's int/float distinction for script
// field values (a literal `1` means an Integer, `1.0` means a Float, the
// way Python's json module distinguishes them natively).
func normalizeJSON(v any) any {
	switch n := v.(type) {
	case json.Number:
		if !strings.ContainsAny(n.String(), ".eE") {
			if i, err := n.Int64(); err == nil {
				return i
			}
		}
		f, _ := n.Float64()
		return f
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = normalizeJSON(e)
		}
		return out
	case map[string]any:
		dict := make(packstream.Dict, 0, len(n))
		for k, val := range n {
			dict = append(dict, packstream.DictEntry{Key: k, Value: normalizeJSON(val)})
		}
		return dict
	default:
		return v
	}
}

func splitTwo(s string) (first, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
