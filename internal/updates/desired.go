package updates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Source locates the blob container a group's manifests and packages live in.
type Source struct {
	ConnectionString string `json:"connStr"`
	Container        string `json:"container"`
}

// Group is one keyed entry of the desired updates section.
type Group struct {
	Key        string
	Source     Source
	Operations []Operation
}

// Desired is the updates section of a desired-state document, in document order.
// Problems lists groups and manifest entries that were skipped because they
// could not be parsed; the rest of the section still applies.
type Desired struct {
	Groups   []Group
	Problems []string
}

// ProblemsError joins Problems into one error, or returns nil.
func (d Desired) ProblemsError() error {
	if len(d.Problems) == 0 {
		return nil
	}
	return fmt.Errorf("skipped %d malformed entries: %s", len(d.Problems), strings.Join(d.Problems, "; "))
}

// Len reports the total number of operations across groups.
func (d Desired) Len() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Operations)
	}
	return n
}

// ParseDesired decodes the updates section. Object key order is kept so
// operations run in the order the document lists them. Only a section that
// is not an object is an error; a malformed group or manifest entry is
// recorded in Problems and skipped.
func ParseDesired(raw []byte) (Desired, error) {
	var out Desired
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return out, nil
	}
	groups, err := orderedObject(raw)
	if err != nil {
		return Desired{}, fmt.Errorf("updates: %w", err)
	}
	skip := func(path string, err error) {
		out.Problems = append(out.Problems, fmt.Sprintf("%s: %v", path, err))
	}
	for _, entry := range groups {
		var body struct {
			Source
			Manifests json.RawMessage `json:"manifests"`
		}
		if err := json.Unmarshal(entry.value, &body); err != nil {
			skip("updates."+entry.key, err)
			continue
		}
		group := Group{Key: entry.key, Source: body.Source}
		if len(body.Manifests) > 0 && !bytes.Equal(bytes.TrimSpace(body.Manifests), []byte("null")) {
			manifests, err := orderedObject(body.Manifests)
			if err != nil {
				skip("updates."+entry.key+".manifests", err)
				continue
			}
			for _, m := range manifests {
				path := "updates." + entry.key + ".manifests." + m.key
				var token string
				if err := json.Unmarshal(m.value, &token); err != nil {
					skip(path, errors.New("manifest entry must be a string"))
					continue
				}
				op, err := ParseOperation(token)
				if err != nil {
					skip(path, err)
					continue
				}
				group.Operations = append(group.Operations, op)
			}
		}
		out.Groups = append(out.Groups, group)
	}
	return out, nil
}

type member struct {
	key   string
	value json.RawMessage
}

func orderedObject(raw []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var members []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		members = append(members, member{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}
