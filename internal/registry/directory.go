package registry

import (
	"sort"
	"strings"
	"sync"
)

// Entry 是目录中的一个智能体。
type Entry struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Address  string `json:"address"`
	Endpoint string `json:"endpoint"`
}

// Directory 维护智能体名称、地址与 webhook 端点之间的映射。
type Directory struct {
	mu        sync.RWMutex
	byName    map[string]Entry
	byAddress map[string]string
}

// NewDirectory 创建空目录。
func NewDirectory() *Directory {
	return &Directory{
		byName:    make(map[string]Entry),
		byAddress: make(map[string]string),
	}
}

// Put 新增或替换一个条目。
func (d *Directory) Put(entry Entry) {
	entry.Name = strings.ToLower(strings.TrimSpace(entry.Name))

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.byName[entry.Name]; ok && old.Address != "" {
		delete(d.byAddress, old.Address)
	}
	d.byName[entry.Name] = entry
	if entry.Address != "" {
		d.byAddress[entry.Address] = entry.Name
	}
}

// Lookup 按名称查找。
func (d *Directory) Lookup(name string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	return entry, ok
}

// ByAddress 按地址查找。
func (d *Directory) ByAddress(address string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.byAddress[address]
	if !ok {
		return Entry{}, false
	}
	return d.byName[name], true
}

// Addresses 返回名称到地址的映射副本。
func (d *Directory) Addresses() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.byName))
	for name, entry := range d.byName {
		out[name] = entry.Address
	}
	return out
}

// Entries 按名称排序返回全部条目。
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.byName))
	for _, entry := range d.byName {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EndpointFor 实现 messaging.Resolver。
func (d *Directory) EndpointFor(address string) (string, bool) {
	entry, ok := d.ByAddress(address)
	if !ok || entry.Endpoint == "" {
		return "", false
	}
	return entry.Endpoint, true
}

// WebhookEndpoint 返回某个智能体在公开地址下的 webhook 路径。
func WebhookEndpoint(publicURL, name string) string {
	return strings.TrimRight(publicURL, "/") + "/api/" + name + "/webhook"
}
