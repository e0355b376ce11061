package instrumentmock

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

type paramKind int

const (
	numeric paramKind = iota
	boolean
)

// param describes one settable value. Suffixes maps an accepted unit tag to
// an offset added before storing, so values are kept in one unit.
type param struct {
	header   string
	kind     paramKind
	initial  float64
	min, max float64
	suffixes map[string]float64
}

// Fault alters how the instrument answers one header.
type Fault struct {
	// Delay before replying.
	Delay time.Duration

	// Drop suppresses the reply entirely.
	Drop bool

	// Reply replaces the reply text when non-empty.
	Reply string

	// Disconnect closes the client connection instead of replying.
	Disconnect bool

	// Count limits how many times the fault fires. Zero means always.
	Count int
}

// Instrument is the simulated state of one instrument.
type Instrument struct {
	mu       sync.RWMutex
	model    string
	identity string
	params   map[string]param
	values   map[string]float64
	measure  func(values map[string]float64, header string) (float64, bool)
	errQueue []string
	faults   map[string]*Fault
	received []string
}

func newInstrument(model, identity string, params []param) *Instrument {
	inst := &Instrument{
		model:    model,
		identity: identity,
		params:   make(map[string]param, len(params)),
		values:   make(map[string]float64, len(params)),
		faults:   make(map[string]*Fault),
	}
	for _, p := range params {
		inst.params[p.header] = p
		inst.values[p.header] = p.initial
	}
	return inst
}

// LoadOhms is the resistive load the simulated power supply drives.
const LoadOhms = 10.0

// NewPowerSupply returns a simulated N5746A (40 V / 38 A) driving a
// LoadOhms resistive load.
func NewPowerSupply() *Instrument {
	inst := newInstrument("N5746A", "Agilent Technologies,N5746A,US00000001,A.01.01", []param{
		{header: "VOLT", kind: numeric, initial: 0, min: 0, max: 40},
		{header: "CURR:LEV", kind: numeric, initial: 1, min: 0, max: 38},
		{header: "VOLT:PROT:LEV", kind: numeric, initial: 44, min: 2, max: 44},
		{header: "OUTP:STAT", kind: boolean},
	})
	inst.measure = func(v map[string]float64, header string) (float64, bool) {
		on := v["OUTP:STAT"] != 0
		switch header {
		case "MEAS:VOLT":
			if !on {
				return 0, true
			}
			// Constant-current crossover.
			return math.Min(v["VOLT"], v["CURR:LEV"]*LoadOhms), true
		case "MEAS:CURR":
			if !on {
				return 0, true
			}
			return math.Min(v["VOLT"]/LoadOhms, v["CURR:LEV"]), true
		}
		return 0, false
	}
	return inst
}

// NewSignalGenerator returns a simulated SMB100A. Power is stored in dBm.
func NewSignalGenerator() *Instrument {
	power := map[string]float64{"": 0, "DBM": 0, "DBUV": -107}
	return newInstrument("SMB100A", "Rohde&Schwarz,SMB100A,1406.6000k03/000001,3.1.19.15-3.50.124.73", []param{
		{header: "FREQ", kind: numeric, initial: 1e9, min: 9e3, max: 6e9},
		{header: "POW", kind: numeric, initial: -30, min: -145, max: 30, suffixes: power},
		{header: "PULM:WIDT", kind: numeric, initial: 1e-6, min: 20e-9, max: 100},
		{header: "PULM:PER", kind: numeric, initial: 1e-3, min: 100e-9, max: 100},
		{header: "FM:DEV", kind: numeric, initial: 1e3, min: 0, max: 10e6},
		{header: "PULM:DEL", kind: numeric, initial: 0, min: 0, max: 100},
		{header: "OUTP", kind: boolean},
		{header: "MOD:STAT", kind: boolean},
	})
}

// Model returns the simulated model name.
func (i *Instrument) Model() string {
	return i.model
}

// Value returns the stored value for a header such as "VOLT".
func (i *Instrument) Value(header string) (float64, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.values[canonical(header)]
	return v, ok
}

// SetValue overrides a stored value without range checks.
func (i *Instrument) SetValue(header string, v float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.values[canonical(header)] = v
}

// SetFault installs a fault for a header. Queries and commands share a key:
// "MEAS:VOLT?" and "VOLT" are distinct headers.
func (i *Instrument) SetFault(header string, f Fault) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fault := f
	i.faults[faultKey(header)] = &fault
}

// ClearFaults removes every fault.
func (i *Instrument) ClearFaults() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.faults = make(map[string]*Fault)
}

// Received returns every message handled so far, in order.
func (i *Instrument) Received() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, len(i.received))
	copy(out, i.received)
	return out
}

// PushError appends an entry to the error queue.
func (i *Instrument) PushError(code int, msg string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pushErrorLocked(code, msg)
}

func (i *Instrument) pushErrorLocked(code int, msg string) {
	i.errQueue = append(i.errQueue, fmt.Sprintf("%d,%q", code, msg))
}

// response is the outcome of one message.
type response struct {
	reply      string
	hasReply   bool
	delay      time.Duration
	disconnect bool
}

// handle processes one message (without terminator) and returns what the
// server should do.
func (i *Instrument) handle(msg string) response {
	msg = strings.TrimSpace(msg)
	msg = strings.TrimSuffix(msg, ";")

	i.mu.Lock()
	defer i.mu.Unlock()

	i.received = append(i.received, msg)

	header, arg, _ := strings.Cut(msg, " ")
	query := strings.HasSuffix(header, "?")
	key := canonical(strings.TrimSuffix(header, "?"))

	var resp response
	if query {
		resp.reply, resp.hasReply = i.queryLocked(key)
	} else {
		i.setLocked(key, strings.TrimSpace(arg))
	}

	fk := key
	if query {
		fk += "?"
	}
	if f, ok := i.faults[fk]; ok {
		resp.delay = f.Delay
		if f.Drop {
			resp.hasReply = false
		}
		if f.Reply != "" {
			resp.reply, resp.hasReply = f.Reply, true
		}
		resp.disconnect = f.Disconnect
		if f.Count > 0 {
			f.Count--
			if f.Count == 0 {
				delete(i.faults, fk)
			}
		}
	}
	return resp
}

func (i *Instrument) queryLocked(key string) (string, bool) {
	switch key {
	case "*IDN":
		return i.identity, true
	case "*OPC":
		return "1", true
	case "*TST":
		return "0", true
	case "SYST:ERR":
		if len(i.errQueue) == 0 {
			return `0,"No error"`, true
		}
		entry := i.errQueue[0]
		i.errQueue = i.errQueue[1:]
		return entry, true
	}
	if i.measure != nil {
		if v, ok := i.measure(i.values, key); ok {
			return format(v), true
		}
	}
	p, ok := i.params[key]
	if !ok {
		// Real instruments stay silent on unknown queries.
		i.pushErrorLocked(-113, "Undefined header")
		return "", false
	}
	v := i.values[key]
	if p.kind == boolean {
		if v != 0 {
			return "1", true
		}
		return "0", true
	}
	return format(v), true
}

func (i *Instrument) setLocked(key, arg string) {
	if key == "*RST" {
		for h, p := range i.params {
			i.values[h] = p.initial
		}
		i.errQueue = nil
		return
	}
	if key == "*CLS" {
		i.errQueue = nil
		return
	}
	p, ok := i.params[key]
	if !ok {
		i.pushErrorLocked(-113, "Undefined header")
		return
	}

	if p.kind == boolean {
		switch strings.ToUpper(arg) {
		case "ON", "1":
			i.values[key] = 1
		case "OFF", "0":
			i.values[key] = 0
		default:
			i.pushErrorLocked(-224, "Illegal parameter value")
		}
		return
	}

	numText, suffix, _ := strings.Cut(arg, " ")
	v, err := strconv.ParseFloat(numText, 64)
	if err != nil {
		i.pushErrorLocked(-104, "Data type error")
		return
	}
	if p.suffixes != nil {
		offset, ok := p.suffixes[strings.ToUpper(strings.TrimSpace(suffix))]
		if !ok {
			i.pushErrorLocked(-131, "Invalid suffix")
			return
		}
		v += offset
	}
	if v < p.min || v > p.max {
		i.pushErrorLocked(-222, "Data out of range")
		return
	}
	i.values[key] = v
}

func canonical(header string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(header), ":"))
}

func faultKey(header string) string {
	if strings.HasSuffix(header, "?") {
		return canonical(strings.TrimSuffix(header, "?")) + "?"
	}
	return canonical(header)
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'G', 12, 64)
}
