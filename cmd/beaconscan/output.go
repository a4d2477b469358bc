package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cast"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/pkg/config"
	"golang.org/x/term"
)

// resolveFormat picks the output format. "auto" means a table on a terminal
// and JSON lines otherwise.
func resolveFormat(flagValue, configValue string, out io.Writer) (string, error) {
	format := flagValue
	if format == "" {
		format = configValue
	}
	switch format {
	case config.OutputTable, config.OutputJSON:
		return format, nil
	case "", config.OutputAuto:
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return config.OutputTable, nil
		}
		return config.OutputJSON, nil
	default:
		return "", fmt.Errorf("invalid format '%s': must be one of [auto table json]", format)
	}
}

var proximityColors = map[beacon.Proximity]*color.Color{
	beacon.ProximityImmediate: color.New(color.FgGreen, color.Bold),
	beacon.ProximityNear:      color.New(color.FgGreen),
	beacon.ProximityFar:       color.New(color.FgYellow),
	beacon.ProximityUnknown:   color.New(color.FgRed),
}

var (
	enterColor = color.New(color.FgGreen, color.Bold)
	exitColor  = color.New(color.FgRed, color.Bold)
	stateColor = color.New(color.FgCyan)
)

func colorProximity(p string) string {
	if c, ok := proximityColors[beacon.Proximity(p)]; ok {
		return c.Sprint(p)
	}
	return p
}

// eventPrinter writes stream events for the range and monitor commands. Its
// methods may be called from any goroutine.
type eventPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	format  string
	now     func() time.Time
	headers bool
}

func newEventPrinter(out io.Writer, format string) *eventPrinter {
	return &eventPrinter{out: out, format: format, now: time.Now}
}

func (p *eventPrinter) json(v interface{}) {
	enc := json.NewEncoder(p.out)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(p.out, "failed to encode event: %v\n", err)
	}
}

// ranging prints one ranging event: a row per beacon, or a single row noting
// the region is empty.
func (p *eventPrinter) ranging(event interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == config.OutputJSON {
		p.json(event)
		return
	}

	rec, _ := event.(beacon.Record)
	region, _ := rec["region"].(beacon.Record)
	beacons, _ := rec["beacons"].([]beacon.Record)

	sort.SliceStable(beacons, func(i, j int) bool {
		return cast.ToInt(beacons[i]["rssi"]) > cast.ToInt(beacons[j]["rssi"])
	})

	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	if !p.headers {
		fmt.Fprintln(w, "TIME\tREGION\tUUID\tMAJOR\tMINOR\tRSSI\tPROXIMITY\tDISTANCE")
		p.headers = true
	}
	stamp := p.now().Format("15:04:05")
	if len(beacons) == 0 {
		fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t%s\t-\n", stamp, cast.ToString(region["identifier"]), colorProximity(string(beacon.ProximityUnknown)))
	}
	for _, b := range beacons {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d dBm\t%s\t%.2f m\n",
			stamp,
			cast.ToString(region["identifier"]),
			cast.ToString(b["proximityUUID"]),
			cast.ToInt(b["major"]),
			cast.ToInt(b["minor"]),
			cast.ToInt(b["rssi"]),
			colorProximity(cast.ToString(b["proximity"])),
			cast.ToFloat64(b["accuracy"]),
		)
	}
	_ = w.Flush()
}

// monitoring prints one monitoring transition.
func (p *eventPrinter) monitoring(event interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == config.OutputJSON {
		p.json(event)
		return
	}

	rec, _ := event.(beacon.Record)
	region, _ := rec["region"].(beacon.Record)
	kind := cast.ToString(rec["event"])

	label := kind
	switch beacon.EventKind(kind) {
	case beacon.EventDidEnterRegion:
		label = enterColor.Sprint("ENTER")
	case beacon.EventDidExitRegion:
		label = exitColor.Sprint("EXIT")
	case beacon.EventDidDetermineState:
		label = stateColor.Sprint("STATE " + cast.ToString(rec["state"]))
	}

	fmt.Fprintf(p.out, "%s  %-20s %s\n", p.now().Format("15:04:05"), cast.ToString(region["identifier"]), label)
}

// streamError prints a stream error delivery.
func (p *eventPrinter) streamError(code, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == config.OutputJSON {
		p.json(map[string]interface{}{"error": map[string]interface{}{"code": code, "message": message}})
		return
	}
	fmt.Fprintf(p.out, "%s  %s\n", p.now().Format("15:04:05"), color.RedString("%s: %s", code, message))
}

// statusRow is one line of the status report.
type statusRow struct {
	Name  string
	Value interface{}
}

func printStatus(out io.Writer, format string, rows []statusRow) error {
	if format == config.OutputJSON {
		m := make(map[string]interface{}, len(rows))
		for _, r := range rows {
			m[r.Name] = r.Value
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		value := fmt.Sprint(r.Value)
		switch v := r.Value.(type) {
		case bool:
			if v {
				value = color.GreenString("yes")
			} else {
				value = color.RedString("no")
			}
		case []string:
			if len(v) == 0 {
				value = color.GreenString("none")
			} else {
				value = color.YellowString("%v", v)
			}
		}
		fmt.Fprintf(w, "%s\t%s\n", r.Name, value)
	}
	return w.Flush()
}
