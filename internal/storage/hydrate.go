package storage

import (
	"log/slog"
	"strconv"
)

// LoadAll replays the whole database into the cache in dependency
// order: devices before their sub-devices and sensors, groups before
// scenes. Per-table failures are logged and hydration continues so a
// single damaged table does not keep the daemon from starting.
func (s *Store) LoadAll(cache *Cache, ddf DDFMatcher, activator RouteActivator) error {
	var firstErr error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			s.logger.Error("hydration step failed",
				slog.String("step", name),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	step("devices", func() error { return s.LoadDevices(cache) })
	step("sub_devices", func() error { return s.LoadSubDevices(cache) })
	step("dev_resource_items", func() error { return s.LoadDeviceResourceItems(cache) })
	step("config", func() error { return s.LoadConfig(cache) })
	step("user_params", func() error { return s.LoadUserParams(cache) })
	step("auth", func() error { return s.LoadAuthTokens(cache) })
	step("lights", func() error { return s.LoadLights(cache, ddf) })
	step("sensors", func() error { return s.LoadSensors(cache, ddf) })
	step("groups", func() error { return s.LoadGroups(cache) })
	step("rules", func() error { return s.LoadRules(cache) })
	step("schedules", func() error { return s.LoadSchedules(cache) })
	step("resourcelinks", func() error { return s.LoadResourcelinks(cache) })
	step("gateways", func() error { return s.LoadGateways(cache) })
	step("alarm_systems", func() error { return s.LoadAlarmSystems(cache) })
	step("secrets", func() error { return s.LoadSecrets(cache) })
	step("source_routes", func() error { return s.RestoreSourceRoutes(cache, activator) })

	s.applyConfigScalars(cache)

	s.logger.Info("cache hydrated", slog.Any("counts", cache.Counts()))
	return firstErr
}

// applyConfigScalars carries hydrated config values over into runtime
// tuning knobs.
func (s *Store) applyConfigScalars(cache *Cache) {
	if raw, ok := cache.Config("zclvaluemaxage"); ok {
		if maxAge, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.SetZCLValueMaxAge(maxAge)
		} else {
			s.logger.Warn("ignoring malformed zclvaluemaxage",
				slog.String("value", raw))
		}
	}
}
