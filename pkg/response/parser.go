package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	errNoObject = errors.New("no JSON object in output")
	errNoFacet  = errors.New("repaired output has no Message or Action")
)

// Parser turns raw backend output into a Response. It never fails: anything
// it cannot decode becomes FallbackResponse.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser. A nil logger uses slog.Default.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With("component", "response.parser")}
}

// Parse decodes raw. Decoding is attempted as-is first; on a syntax error the
// text is repaired and decoded again.
func (p *Parser) Parse(raw string) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("parser panic", "panic", r)
			resp = FallbackResponse()
		}
	}()

	candidate, err := extractObject(raw)
	if err != nil {
		p.logger.Debug("unparsable output", "error", err, "raw", raw)
		return FallbackResponse()
	}

	resp, err = p.decode([]byte(candidate))
	if err == nil {
		return resp
	}

	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		p.logger.Debug("output does not match schema", "error", err)
		return FallbackResponse()
	}

	fixed, rerr := jsonrepair.JSONRepair(candidate)
	if rerr != nil {
		p.logger.Debug("repair failed", "error", rerr, "raw", raw)
		return FallbackResponse()
	}
	resp, err = p.decode([]byte(fixed))
	if err != nil {
		p.logger.Debug("repaired output still invalid", "error", err)
		return FallbackResponse()
	}
	if resp.Message == nil && resp.Action == nil {
		p.logger.Debug("repaired output rejected", "error", errNoFacet)
		return FallbackResponse()
	}
	p.logger.Debug("output repaired", "fixed", fixed)
	return resp
}

// extractObject strips prose and code fences around the outermost object.
func extractObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", errNoObject
	}
	end := strings.LastIndexByte(raw, '}')
	if end < start {
		// Unterminated; let the repair stage close it.
		s := strings.TrimSpace(raw[start:])
		return strings.TrimSuffix(s, "```"), nil
	}
	return raw[start : end+1], nil
}

func (p *Parser) decode(data []byte) (Response, error) {
	var top object
	if err := json.Unmarshal(data, &top); err != nil {
		return Response{}, err
	}

	var resp Response
	for _, m := range top {
		switch strings.ToLower(m.Key) {
		case "message":
			msg, err := decodeMessage(m.Value)
			if err != nil {
				return Response{}, fmt.Errorf("message: %w", err)
			}
			if resp.Message != nil && msg != nil {
				msg.Text = resp.Message.Text + " " + msg.Text
			}
			if msg != nil {
				resp.Message = msg
			}
		case "action":
			act, err := p.decodeAction(m.Value)
			if err != nil {
				return Response{}, fmt.Errorf("action: %w", err)
			}
			if resp.Action == nil {
				resp.Action = act
			} else {
				resp.Action.Entries = append(resp.Action.Entries, act.Entries...)
			}
		default:
			p.logger.Debug("ignoring unknown facet", "key", m.Key)
		}
	}
	return resp, nil
}

// decodeMessage accepts {"message_1": "...", ...} or a bare string.
func decodeMessage(raw json.RawMessage) (*Message, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return &Message{Text: strings.TrimSpace(s)}, nil
	}

	var parts object
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		var s string
		if err := json.Unmarshal(part.Value, &s); err != nil {
			return nil, fmt.Errorf("%s: not a string", part.Key)
		}
		if s = strings.TrimSpace(s); s != "" {
			texts = append(texts, s)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}
	return &Message{Text: strings.Join(texts, " ")}, nil
}

func (p *Parser) decodeAction(raw json.RawMessage) (*Action, error) {
	if isNull(raw) {
		return &Action{}, nil
	}
	var entries object
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	act := &Action{Entries: make([]ActionEntry, 0, len(entries))}
	for _, e := range entries {
		entry := ActionEntry{Name: e.Key}
		if isNull(e.Value) {
			act.Entries = append(act.Entries, entry)
			continue
		}
		var body object
		if err := json.Unmarshal(e.Value, &body); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		for _, field := range body {
			switch strings.ToLower(field.Key) {
			case "skills":
				skills, err := decodeSkills(field.Value)
				if err != nil {
					return nil, fmt.Errorf("%s.skills: %w", e.Key, err)
				}
				entry.Skills = append(entry.Skills, skills...)
			case "movements":
				moves, err := p.decodeMovements(field.Value)
				if err != nil {
					return nil, fmt.Errorf("%s.movements: %w", e.Key, err)
				}
				entry.Movements = append(entry.Movements, moves...)
			default:
				p.logger.Debug("ignoring action field", "action", e.Key, "field", field.Key)
			}
		}
		act.Entries = append(act.Entries, entry)
	}
	return act, nil
}

func decodeSkills(raw json.RawMessage) ([]Invocation, error) {
	if isNull(raw) {
		return nil, nil
	}
	var skills object
	if err := json.Unmarshal(raw, &skills); err != nil {
		return nil, err
	}
	out := make([]Invocation, 0, len(skills))
	for _, s := range skills {
		params := map[string]any{}
		if v := bytes.TrimSpace(s.Value); len(v) > 0 && v[0] == '{' {
			if err := json.Unmarshal(v, &params); err != nil {
				return nil, fmt.Errorf("%s: %w", s.Key, err)
			}
		}
		out = append(out, Invocation{
			Kind:   ParseKind(s.Key),
			Name:   s.Key,
			Params: params,
		})
	}
	return out, nil
}

type jointTarget struct {
	Motor json.RawMessage `json:"motor"`
	Value *float64        `json:"value"`
}

func (p *Parser) decodeMovements(raw json.RawMessage) ([]MovementCommand, error) {
	if isNull(raw) {
		return nil, nil
	}
	var groups object
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, err
	}

	var out []MovementCommand
	for _, g := range groups {
		var ops object
		if err := json.Unmarshal(g.Value, &ops); err != nil {
			return nil, fmt.Errorf("%s: %w", g.Key, err)
		}
		for _, op := range ops {
			if !strings.EqualFold(op.Key, "move_joint") {
				p.logger.Warn("unknown movement", "group", g.Key, "movement", op.Key)
				continue
			}
			targets, err := decodeTargets(op.Value)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", g.Key, op.Key, err)
			}
			for _, t := range targets {
				motor := motorID(t.Motor)
				if motor == "" || t.Value == nil {
					p.logger.Warn("skipping incomplete move_joint", "group", g.Key)
					continue
				}
				out = append(out, MovementCommand{Group: g.Key, Motor: motor, Position: *t.Value})
			}
		}
	}
	return out, nil
}

// decodeTargets accepts a single target object or an array of them.
func decodeTargets(raw json.RawMessage) ([]jointTarget, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var ts []jointTarget
		err := json.Unmarshal(raw, &ts)
		return ts, err
	}
	var t jointTarget
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return []jointTarget{t}, nil
}

// motorID accepts "pan" or 3.
func motorID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
