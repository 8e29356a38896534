package domain

// ServiceSnapshot is the compiled, read-only view of one service's
// configs (e.g. "codex"), in the order the configuration lists them;
// Candidates derives the selection order from them.
type ServiceSnapshot struct {
	Service      string
	ActiveConfig string
	Configs      []*Config
}

// Snapshot is the whole-process, atomically-swappable read-only view
// installed by a config reload. Every request holds one reference
// for its entire lifetime so a reload mid-request never produces a
// torn read.
type Snapshot struct {
	Services map[string]*ServiceSnapshot
	Retry    RetryPolicy
	Version  int64
}

// Candidates returns the ordered candidate list for selection: the
// active config's upstreams first, then, if multiple distinct levels
// exist among enabled configs, the remaining configs walked in
// ascending level (active config preferred within its own level),
// skipping disabled non-active configs.
func (s *ServiceSnapshot) Candidates() []*Upstream {
	if s == nil {
		return nil
	}

	var active *Config
	levels := make(map[int][]*Config)
	distinctLevels := map[int]struct{}{}

	for _, c := range s.Configs {
		if c.Name == s.ActiveConfig {
			active = c
		}
		if !c.Enabled && c.Name != s.ActiveConfig {
			continue
		}
		levels[c.Level] = append(levels[c.Level], c)
		distinctLevels[c.Level] = struct{}{}
	}

	var out []*Upstream
	seen := map[string]bool{}

	appendConfig := func(c *Config) {
		if c == nil || seen[c.Name] {
			return
		}
		seen[c.Name] = true
		out = append(out, c.Upstreams...)
	}

	appendConfig(active)

	if len(distinctLevels) > 1 {
		sortedLevels := make([]int, 0, len(levels))
		for l := range levels {
			sortedLevels = append(sortedLevels, l)
		}
		// simple insertion sort: level counts are tiny (at most 10)
		for i := 1; i < len(sortedLevels); i++ {
			for j := i; j > 0 && sortedLevels[j-1] > sortedLevels[j]; j-- {
				sortedLevels[j-1], sortedLevels[j] = sortedLevels[j], sortedLevels[j-1]
			}
		}
		for _, l := range sortedLevels {
			for _, c := range levels[l] {
				appendConfig(c)
			}
		}
	}

	return out
}

// Service looks up a named service's snapshot, nil if unknown.
func (s *Snapshot) Service(name string) *ServiceSnapshot {
	if s == nil {
		return nil
	}
	return s.Services[name]
}
