package storage

import (
	"sync"
	"time"
)

// Cache holds the hydrated in-memory representation of every persisted
// entity family. Logical identity between restarts is carried by the
// string and integer keys; hydration dedupes on those keys and never
// replaces an entry that is already attached.
type Cache struct {
	mu sync.RWMutex

	devices       map[uint64]*Device
	subDevices    map[string]*SubDevice
	devItems      map[int64]map[string]*ResourceItem
	lights        map[string]*LightNode
	sensors       map[string]*Sensor
	groups        map[string]*Group
	scenes        map[string]*Scene
	rules         map[string]*Rule
	schedules     map[string]*Schedule
	resourcelinks map[string]*Resourcelink
	gateways      map[string]*GatewayLink
	auth          map[string]*AuthToken
	config        map[string]string
	userParams    map[string]string
	sourceRoutes  map[string]*SourceRoute
	alarmSystems  map[int64]*AlarmSystem
	secrets       map[string]*Secret
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{
		devices:       make(map[uint64]*Device),
		subDevices:    make(map[string]*SubDevice),
		devItems:      make(map[int64]map[string]*ResourceItem),
		lights:        make(map[string]*LightNode),
		sensors:       make(map[string]*Sensor),
		groups:        make(map[string]*Group),
		scenes:        make(map[string]*Scene),
		rules:         make(map[string]*Rule),
		schedules:     make(map[string]*Schedule),
		resourcelinks: make(map[string]*Resourcelink),
		gateways:      make(map[string]*GatewayLink),
		auth:          make(map[string]*AuthToken),
		config:        make(map[string]string),
		userParams:    make(map[string]string),
		sourceRoutes:  make(map[string]*SourceRoute),
		alarmSystems:  make(map[int64]*AlarmSystem),
		secrets:       make(map[string]*Secret),
	}
}

// Device returns the cached device for a MAC, if present.
func (c *Cache) Device(mac uint64) (*Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[mac]
	return d, ok
}

// EnsureDevice returns the cached device for a MAC, creating a fresh
// entry on first sighting. The second result reports creation.
func (c *Cache) EnsureDevice(mac uint64, now time.Time) (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[mac]; ok {
		return d, false
	}
	d := &Device{MAC: mac, CreatedAt: now, NeedSave: true}
	c.devices[mac] = d
	return d, true
}

func (c *Cache) attachDevice(d *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[d.MAC]; !ok {
		c.devices[d.MAC] = d
	}
}

// SubDevice returns the cached sub-device for a uniqueid, if present.
func (c *Cache) SubDevice(uniqueid string) (*SubDevice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.subDevices[uniqueid]
	return s, ok
}

func (c *Cache) attachSubDevice(s *SubDevice) *SubDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.subDevices[s.UniqueID]; ok {
		return existing
	}
	if s.Items == nil {
		s.Items = make(map[string]*ResourceItem)
	}
	c.subDevices[s.UniqueID] = s
	return s
}

// Sensor returns the cached sensor for a sid, if present.
func (c *Cache) Sensor(sid string) (*Sensor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sensors[sid]
	return s, ok
}

// SensorByUniqueID returns the first cached sensor carrying a uniqueid.
func (c *Cache) SensorByUniqueID(uniqueid string) (*Sensor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sensors {
		if s.UniqueID == uniqueid {
			return s, true
		}
	}
	return nil, false
}

func (c *Cache) attachSensor(s *Sensor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sensors[s.SID]; ok {
		return false
	}
	c.sensors[s.SID] = s
	return true
}

// Light returns the cached light node for an id, if present.
func (c *Cache) Light(id string) (*LightNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lights[id]
	return l, ok
}

func (c *Cache) attachLight(l *LightNode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lights[l.ID]; ok {
		return false
	}
	c.lights[l.ID] = l
	return true
}

// Group returns the cached group for a gid, if present.
func (c *Cache) Group(gid string) (*Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[gid]
	return g, ok
}

// PutGroup attaches or replaces a group and marks it dirty.
func (c *Cache) PutGroup(g *Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g.NeedSave = true
	c.groups[g.GID] = g
}

// PutScene attaches or replaces a scene and marks it dirty.
func (c *Cache) PutScene(s *Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.NeedSave = true
	c.scenes[s.GID+"-"+s.SID] = s
}

// PutSensor attaches or replaces a sensor and marks it dirty.
func (c *Cache) PutSensor(s *Sensor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.NeedSave = true
	c.sensors[s.SID] = s
}

// PutLight attaches or replaces a light node and marks it dirty.
func (c *Cache) PutLight(l *LightNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.NeedSave = true
	c.lights[l.ID] = l
}

// PutRule attaches or replaces a rule and marks it dirty.
func (c *Cache) PutRule(r *Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.NeedSave = true
	c.rules[r.RID] = r
}

// PutSchedule attaches or replaces a schedule and marks it dirty.
func (c *Cache) PutSchedule(s *Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.NeedSave = true
	c.schedules[s.ID] = s
}

// PutResourcelink attaches or replaces a resourcelink and marks it dirty.
func (c *Cache) PutResourcelink(r *Resourcelink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.NeedSave = true
	c.resourcelinks[r.ID] = r
}

// PutGateway attaches or replaces a gateway link and marks it dirty.
func (c *Cache) PutGateway(g *GatewayLink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g.NeedSave = true
	c.gateways[g.UUID] = g
}

// PutAuthToken attaches or replaces an auth token and marks it dirty.
func (c *Cache) PutAuthToken(t *AuthToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.NeedSave = true
	c.auth[t.APIKey] = t
}

// AuthToken returns the cached token for an apikey, if present.
func (c *Cache) AuthToken(apikey string) (*AuthToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.auth[apikey]
	return t, ok
}

// SetConfig stores a recognized config scalar.
func (c *Cache) SetConfig(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config[key] = value
}

// Config returns a config scalar and whether it is set.
func (c *Cache) Config(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.config[key]
	return v, ok
}

// SetUserParam stores a user parameter.
func (c *Cache) SetUserParam(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userParams[key] = value
}

// UserParam returns a user parameter and whether it is set.
func (c *Cache) UserParam(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.userParams[key]
	return v, ok
}

// PutSourceRoute attaches or replaces a source route and marks it dirty.
func (c *Cache) PutSourceRoute(r *SourceRoute) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.NeedSave = true
	c.sourceRoutes[r.UUID] = r
}

// SourceRoute returns the cached route for a uuid, if present.
func (c *Cache) SourceRoute(uuid string) (*SourceRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.sourceRoutes[uuid]
	return r, ok
}

// AlarmSystem returns the cached alarm system for an id, if present.
func (c *Cache) AlarmSystem(id int64) (*AlarmSystem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.alarmSystems[id]
	return a, ok
}

// PutAlarmSystem attaches or replaces an alarm system and marks it dirty.
func (c *Cache) PutAlarmSystem(a *AlarmSystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.Items == nil {
		a.Items = make(map[string]*ResourceItem)
	}
	if a.Devices == nil {
		a.Devices = make(map[string]AlarmSystemDevice)
	}
	a.NeedSave = true
	c.alarmSystems[a.ID] = a
}

// PutSecret attaches or replaces a secret and marks it dirty.
func (c *Cache) PutSecret(s *Secret) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.NeedSave = true
	c.secrets[s.UniqueID] = s
}

// Counts reports per-family cache sizes, mainly for startup logging.
func (c *Cache) Counts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]int{
		"devices":       len(c.devices),
		"sub_devices":   len(c.subDevices),
		"lights":        len(c.lights),
		"sensors":       len(c.sensors),
		"groups":        len(c.groups),
		"scenes":        len(c.scenes),
		"rules":         len(c.rules),
		"schedules":     len(c.schedules),
		"resourcelinks": len(c.resourcelinks),
		"gateways":      len(c.gateways),
		"auth":          len(c.auth),
		"config":        len(c.config),
		"source_routes": len(c.sourceRoutes),
		"alarm_systems": len(c.alarmSystems),
		"secrets":       len(c.secrets),
	}
}
