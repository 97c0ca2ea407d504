package scheduler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionalInt decodes the three integer encodings SLURM JSON uses across
// versions: a plain number, null, or the v0.0.40+ object
// {"set": bool, "infinite": bool, "number": N}.
type OptionalInt struct {
	Value *int64
}

func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		o.Value = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var wrapped struct {
			Set      bool  `json:"set"`
			Infinite bool  `json:"infinite"`
			Number   int64 `json:"number"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		if !wrapped.Set {
			o.Value = nil
			return nil
		}
		o.Value = &wrapped.Number
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	o.Value = &n
	return nil
}

// FlexState decodes a state that is either a string or a list of state
// tags; the first tag wins.
type FlexState struct {
	Value string
}

func (s *FlexState) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			s.Value = list[0]
		}
		return nil
	}
	return json.Unmarshal(data, &s.Value)
}

// parseDuration turns "HH:MM:SS" into total seconds.
func parseDuration(v string) (int64, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration string: %q", v)
	}
	h, err1 := strconv.ParseInt(parts[0], 10, 64)
	m, err2 := strconv.ParseInt(parts[1], 10, 64)
	s, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("invalid duration string: %q", v)
	}
	return h*3600 + m*60 + s, nil
}

// pbsTimestampLayout matches the qstat time format,
// e.g. "Wed May 14 11:52:02 2025".
const pbsTimestampLayout = "Mon Jan 2 15:04:05 2006"

// parseTimestamp turns a qstat timestamp into UNIX seconds in the local
// zone of the gateway.
func parseTimestamp(v string) (int64, error) {
	t, err := time.ParseInLocation(pbsTimestampLayout, strings.TrimSpace(v), time.Local)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// parseMemory normalizes PBS memory strings like "16gb" or "512mb" to
// bytes, using decimal multipliers.
func parseMemory(v string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "pb"):
		multiplier, s = 1_000_000_000_000_000, strings.TrimSuffix(s, "pb")
	case strings.HasSuffix(s, "tb"):
		multiplier, s = 1_000_000_000_000, strings.TrimSuffix(s, "tb")
	case strings.HasSuffix(s, "gb"):
		multiplier, s = 1_000_000_000, strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "mb"):
		multiplier, s = 1_000_000, strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "kb"):
		multiplier, s = 1_000, strings.TrimSuffix(s, "kb")
	case strings.HasSuffix(s, "b"):
		s = strings.TrimSuffix(s, "b")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory string: %q", v)
	}
	return n * multiplier, nil
}

// expandExecHosts turns a PBS exec_host expression like
// "nid[001-004]/0+nid005/0" into a comma-joined hostname list.
func expandExecHosts(v string) string {
	var hosts []string
	for _, chunk := range strings.Split(v, "+") {
		host := chunk
		if idx := strings.Index(host, "/"); idx >= 0 {
			host = host[:idx]
		}
		hosts = append(hosts, expandHostRange(host)...)
	}
	return strings.Join(hosts, ",")
}

// expandHostRange expands "nid[001-004]" into nid001..nid004, keeping the
// zero padding. Hostnames without brackets pass through unchanged.
func expandHostRange(host string) []string {
	open := strings.Index(host, "[")
	closing := strings.Index(host, "]")
	if open < 0 || closing < open {
		return []string{host}
	}
	prefix := host[:open]
	suffix := host[closing+1:]
	var out []string
	for _, part := range strings.Split(host[open+1:closing], ",") {
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) == 1 {
			out = append(out, prefix+bounds[0]+suffix)
			continue
		}
		lo, err1 := strconv.Atoi(bounds[0])
		hi, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || hi < lo {
			out = append(out, prefix+part+suffix)
			continue
		}
		width := len(bounds[0])
		for i := lo; i <= hi; i++ {
			out = append(out, fmt.Sprintf("%s%0*d%s", prefix, width, i, suffix))
		}
	}
	return out
}

// apiVersionAtLeast compares dotted versions such as "0.0.39" and "0.0.41".
// Missing segments count as zero; non-numeric segments compare as zero.
func apiVersionAtLeast(version, minimum string) bool {
	return compareVersions(version, minimum) >= 0
}

func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
