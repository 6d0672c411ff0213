package ttcan

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Adapter is one physical (or virtual) CAN channel.
type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error
	Send() chan<- *CANFrame
	Recv() <-chan *CANFrame
	Err() <-chan error
	Event() <-chan Event
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", a.Name, a.Description, a.RequiresSerialPort)
}

type AdapterConfig struct {
	Debug         bool
	Port          string  // serial port or channel id
	PortBaudrate  int     // serial speed, only used by serial adapters
	CANRate       float64 // kbit/s
	UseExtendedID bool
	OnMessage     func(string)
}

const DefaultCANRate = 500

var (
	adapterMu  sync.RWMutex
	adapterMap = make(map[string]*AdapterInfo)
)

// NewAdapter creates the adapter registered under adapterName. Lookup is case insensitive.
func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg == nil {
		cfg = &AdapterConfig{CANRate: DefaultCANRate}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			_, file, no, ok := runtime.Caller(1)
			if ok {
				log.Printf("%s#%d %v", filepath.Base(file), no, msg)
			} else {
				log.Println(msg)
			}
		}
	}
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	if adapter, found := adapterMap[adapterName]; found {
		return adapter.New(cfg)
	}
	for name, adapter := range adapterMap {
		if strings.EqualFold(name, adapterName) {
			return adapter.New(cfg)
		}
	}
	return nil, fmt.Errorf("unknown adapter %q", adapterName)
}

func RegisterAdapter(adapter *AdapterInfo) error {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	if _, found := adapterMap[adapter.Name]; !found {
		adapterMap[adapter.Name] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	out := make([]string, 0, len(adapterMap))
	for name := range adapterMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	out := make([]AdapterInfo, 0, len(adapterMap))
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}
