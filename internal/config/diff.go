package config

import (
	"reflect"
	"sort"
)

// ChangedSections lists the top-level sections that differ between two
// configs. Only names are returned, so the result is safe to log.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	pairs := map[string][2]any{
		"title":       {oldCfg.Title, newCfg.Title},
		"logging":     {oldCfg.Logging, newCfg.Logging},
		"executor":    {oldCfg.Executor, newCfg.Executor},
		"background":  {oldCfg.Background, newCfg.Background},
		"task_engine": {oldCfg.TaskEngine, newCfg.TaskEngine},
		"delivery":    {oldCfg.Delivery, newCfg.Delivery},
		"secrets":     {oldCfg.Secrets, newCfg.Secrets},
		"http":        {oldCfg.HTTP, newCfg.HTTP},
		"telegram":    {oldCfg.Telegram, newCfg.Telegram},
		"storage":     {oldCfg.Storage, newCfg.Storage},
		"speedtest":   {oldCfg.Speedtest, newCfg.Speedtest},
	}
	var changed []string
	for name, p := range pairs {
		if !reflect.DeepEqual(p[0], p[1]) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// RestartRequired reports the changed sections that are only read at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "executor", "secrets":
			out = append(out, s)
		}
	}
	return out
}
