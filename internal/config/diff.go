package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "cruise/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the names of projects that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.poll_interval", strings.TrimSpace(newCfg.Server.PollInterval)),
			logx.String("server.timezone", strings.TrimSpace(newCfg.Server.Timezone)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", tokenMarker(newCfg.HTTP.Token) != ""),
			logx.Bool("http.token_rotated", oldCfg.HTTP.Token != newCfg.HTTP.Token),
		)
	}

	var ostore, nstore StorageConfig
	if oldCfg.Storage != nil {
		ostore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nstore = *newCfg.Storage
	}
	ostore.Password, nstore.Password = tokenMarker(ostore.Password), tokenMarker(nstore.Password)
	if ostore != nstore {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nstore.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nstore.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Queues, newCfg.Queues) {
		changed = append(changed, "queues")
		attrs = append(attrs, logx.Int("queues.count", len(newCfg.Queues)))
	}

	projects := diffProjects(oldCfg.Projects, newCfg.Projects)
	if len(projects) > 0 {
		changed = append(changed, "projects")
		attrs = append(attrs,
			logx.Int("projects.changed_count", len(projects)),
			logx.Int("projects.count", len(newCfg.Projects)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, projects
}

func tokenMarker(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}

func diffProjects(oldP, newP []ProjectConfig) []string {
	oldM := make(map[string]uint64, len(oldP))
	for _, p := range oldP {
		oldM[p.Name] = hashProject(p)
	}
	newM := make(map[string]uint64, len(newP))
	for _, p := range newP {
		newM[p.Name] = hashProject(p)
	}

	out := make([]string, 0)
	for name, h := range oldM {
		if nh, ok := newM[name]; !ok || nh != h {
			out = append(out, name)
		}
	}
	for name := range newM {
		if _, ok := oldM[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func hashProject(p ProjectConfig) uint64 {
	b, err := json.Marshal(p)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
