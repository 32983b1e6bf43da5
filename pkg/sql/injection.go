package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionFinding describes a bound value that libinjection classifies as
// an injection payload.
type InjectionFinding struct {
	Position    int    // 1-based, matches $n
	Fingerprint string // libinjection token fingerprint
}

// CheckValueForInjection classifies a single bound value. Only strings are
// inspected; other types return nil.
func CheckValueForInjection(position int, value any) *InjectionFinding {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(s); isSQLi {
		return &InjectionFinding{Position: position, Fingerprint: string(fingerprint)}
	}
	return nil
}

// CheckParameters inspects every bound value, including string elements of
// slices bound for IN lists, and returns the findings in position order.
func CheckParameters(params []any) []*InjectionFinding {
	var findings []*InjectionFinding
	for i, v := range params {
		switch vals := v.(type) {
		case []any:
			for _, elem := range vals {
				if f := CheckValueForInjection(i+1, elem); f != nil {
					findings = append(findings, f)
					break
				}
			}
		case []string:
			for _, elem := range vals {
				if f := CheckValueForInjection(i+1, elem); f != nil {
					findings = append(findings, f)
					break
				}
			}
		default:
			if f := CheckValueForInjection(i+1, v); f != nil {
				findings = append(findings, f)
			}
		}
	}
	return findings
}
