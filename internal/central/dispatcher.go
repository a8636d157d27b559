package central

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/radio"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Profile handles the GATT events of one registered client application.
type Profile interface {
	HandleGATT(iface radio.InterfaceID, ev radio.GATTEvent)
}

// GAPHandler receives the GAP events that drive scanning.
type GAPHandler interface {
	OnParamsSet(ev radio.ScanParamsSet)
	OnResult(ev radio.ScanResult)
}

type profileSlot struct {
	profile Profile
	iface   radio.InterfaceID
	bound   bool
}

// Dispatcher routes stack events: GAP events to the scanner, GATT events to
// the profiles whose interface id matches, or to every profile for
// radio.InterfaceNone. It implements radio.EventSink.
type Dispatcher struct {
	gap      GAPHandler
	profiles *orderedmap.OrderedMap[radio.AppID, *profileSlot]
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher forwarding GAP events to gap.
func NewDispatcher(gap GAPHandler, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		gap:      gap,
		profiles: orderedmap.New[radio.AppID, *profileSlot](),
		logger:   logger,
	}
}

// RegisterProfile adds a profile under app. The interface id is bound when
// the stack confirms registration of the same app id.
func (d *Dispatcher) RegisterProfile(app radio.AppID, p Profile) error {
	if _, exists := d.profiles.Get(app); exists {
		return fmt.Errorf("profile for app %d already registered", app)
	}
	d.profiles.Set(app, &profileSlot{profile: p})
	return nil
}

// Interface returns the interface id bound to app, if any.
func (d *Dispatcher) Interface(app radio.AppID) (radio.InterfaceID, bool) {
	slot, ok := d.profiles.Get(app)
	if !ok || !slot.bound {
		return radio.InterfaceNone, false
	}
	return slot.iface, true
}

// Apps returns the registered app ids in registration order.
func (d *Dispatcher) Apps() []radio.AppID {
	apps := make([]radio.AppID, 0, d.profiles.Len())
	for pair := d.profiles.Oldest(); pair != nil; pair = pair.Next() {
		apps = append(apps, pair.Key)
	}
	return apps
}

// HandleGAP implements radio.EventSink.
func (d *Dispatcher) HandleGAP(ev radio.GAPEvent) {
	switch e := ev.(type) {
	case radio.ScanParamsSet:
		d.gap.OnParamsSet(e)
	case radio.ScanResult:
		d.gap.OnResult(e)
	case radio.ScanStarted:
		d.logStatus(ev.EventName(), e.Status)
	case radio.ScanStopped:
		d.logStatus(ev.EventName(), e.Status)
	case radio.ConnParamsUpdated:
		d.logger.WithFields(logrus.Fields{
			"status":   e.Status.String(),
			"addr":     e.PeerAddr.String(),
			"min_int":  e.MinInt,
			"max_int":  e.MaxInt,
			"conn_int": e.ConnInt,
			"latency":  e.Latency,
			"timeout":  e.Timeout,
		}).Info("Connection parameters updated")
	default:
		d.logger.WithField("event", ev.EventName()).Debug("Unhandled GAP event")
	}
}

func (d *Dispatcher) logStatus(name string, status radio.Status) {
	entry := d.logger.WithFields(logrus.Fields{"event": name, "status": status.String()})
	if status != radio.StatusOK {
		entry.Error("GAP operation failed")
		return
	}
	entry.Debug("GAP operation complete")
}

// HandleGATT implements radio.EventSink.
func (d *Dispatcher) HandleGATT(iface radio.InterfaceID, ev radio.GATTEvent) {
	if reg, ok := ev.(radio.Registered); ok {
		slot, exists := d.profiles.Get(reg.AppID)
		if !exists {
			d.logger.WithFields(logrus.Fields{
				"app_id": reg.AppID,
				"error":  radio.ErrUnknownProfile,
			}).Error("Registration for unknown app")
			return
		}
		if reg.Status != radio.StatusOK {
			d.logger.WithFields(logrus.Fields{
				"app_id": reg.AppID,
				"status": reg.Status.String(),
			}).Error("App registration failed")
			return
		}
		slot.iface = iface
		slot.bound = true
		slot.profile.HandleGATT(iface, ev)
		return
	}

	for pair := d.profiles.Oldest(); pair != nil; pair = pair.Next() {
		slot := pair.Value
		if iface == radio.InterfaceNone || (slot.bound && slot.iface == iface) {
			slot.profile.HandleGATT(iface, ev)
		}
	}
}
