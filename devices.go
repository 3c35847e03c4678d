package main

import (
	"log"

	"sonderx/config"
)

// SDR is one receiver device. Devices are created once at startup from
// configuration and live for the whole process; only the in-use flag and
// bound-task description change, and only on the control goroutine.
type SDR struct {
	Serial string
	Gain   float64
	PPM    int
	Bias   bool

	InUse bool
	Task  string // human-readable description of the bound task, "" when free
}

// DevicePool tracks the receiver devices in stable configuration order.
// It is not fairness-critical: Allocate always returns the first free device.
type DevicePool struct {
	order []string
	sdrs  map[string]*SDR
}

// NewDevicePool builds the pool from the configured SDR list.
func NewDevicePool(cfgs []config.SDRConfig) *DevicePool {
	p := &DevicePool{sdrs: make(map[string]*SDR, len(cfgs))}
	for _, c := range cfgs {
		if _, dup := p.sdrs[c.Serial]; dup {
			log.Printf("Device Pool: duplicate SDR serial %s ignored", c.Serial)
			continue
		}
		p.order = append(p.order, c.Serial)
		p.sdrs[c.Serial] = &SDR{Serial: c.Serial, Gain: c.Gain, PPM: c.PPM, Bias: c.Bias}
	}
	return p
}

// Allocate returns the first free device. When checkOnly is false the device
// is marked in-use and the assignment is logged; when true the pool is left
// untouched (used to probe for free capacity).
func (p *DevicePool) Allocate(checkOnly bool, desc string) (*SDR, bool) {
	for _, serial := range p.order {
		dev := p.sdrs[serial]
		if dev.InUse {
			continue
		}
		if !checkOnly {
			dev.InUse = true
			dev.Task = desc
			log.Printf("Device Pool: SDR %s has been allocated to %s.", serial, desc)
		}
		return dev, true
	}
	return nil, false
}

// Release clears the in-use flag and bound-task reference.
func (p *DevicePool) Release(serial string) {
	dev, ok := p.sdrs[serial]
	if !ok {
		log.Printf("Device Pool: release of unknown SDR %s ignored", serial)
		return
	}
	dev.InUse = false
	dev.Task = ""
}

// FreeCount returns the number of devices not currently in use.
func (p *DevicePool) FreeCount() int {
	free := 0
	for _, serial := range p.order {
		if !p.sdrs[serial].InUse {
			free++
		}
	}
	return free
}

// Size returns the total number of devices in the pool.
func (p *DevicePool) Size() int {
	return len(p.order)
}
