package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"moff.io/walletconnect-sign/pkg/errors"
)

const recapPrefix = "urn:recap:"

// Recap is an EIP-5573 capability object: resource -> ability -> caveats.
type Recap struct {
	Att map[string]map[string][]map[string]interface{} `json:"att"`
}

// BuildRecap grants "request/{method}" on resource for every method.
func BuildRecap(resource string, methods []string) (string, error) {
	abilities := make(map[string][]map[string]interface{}, len(methods))
	for _, m := range methods {
		abilities["request/"+m] = []map[string]interface{}{{}}
	}
	data, err := json.Marshal(Recap{Att: map[string]map[string][]map[string]interface{}{resource: abilities}})
	if err != nil {
		return "", errors.Wrap(err, "marshal recap")
	}
	return recapPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeRecap(uri string) (*Recap, error) {
	if !strings.HasPrefix(uri, recapPrefix) {
		return nil, errors.Errorf("not a recap uri: %s", uri)
	}
	raw := strings.TrimPrefix(uri, recapPrefix)
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, errors.Wrap(err, "decode recap")
	}
	var r Recap
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "unmarshal recap")
	}
	return &r, nil
}

// RecapMethods returns the request methods granted by the recap resources.
func RecapMethods(resources []string) []string {
	var methods []string
	for _, res := range resources {
		r, err := DecodeRecap(res)
		if err != nil {
			continue
		}
		for _, abilities := range r.Att {
			for ability := range abilities {
				if m := strings.TrimPrefix(ability, "request/"); m != ability {
					methods = append(methods, m)
				}
			}
		}
	}
	sort.Strings(methods)
	return methods
}

// recapStatement is the human readable form appended to the statement, e.g.
// "I further authorize the stated URI to perform the following actions on my
// behalf: (1) 'request': 'eth_sign', 'personal_sign' for 'eip155'."
func recapStatement(resources []string) string {
	var clauses []string
	for _, res := range resources {
		r, err := DecodeRecap(res)
		if err != nil {
			continue
		}
		targets := make([]string, 0, len(r.Att))
		for target := range r.Att {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			actions := make(map[string][]string)
			for ability := range r.Att[target] {
				ns, name, ok := strings.Cut(ability, "/")
				if !ok {
					continue
				}
				actions[ns] = append(actions[ns], name)
			}
			kinds := make([]string, 0, len(actions))
			for ns := range actions {
				kinds = append(kinds, ns)
			}
			sort.Strings(kinds)
			for _, ns := range kinds {
				names := actions[ns]
				sort.Strings(names)
				quoted := make([]string, len(names))
				for i, n := range names {
					quoted[i] = "'" + n + "'"
				}
				clauses = append(clauses, fmt.Sprintf("(%d) '%s': %s for '%s'.",
					len(clauses)+1, ns, strings.Join(quoted, ", "), target))
			}
		}
	}
	if len(clauses) == 0 {
		return ""
	}
	return "I further authorize the stated URI to perform the following actions on my behalf: " + strings.Join(clauses, " ")
}
