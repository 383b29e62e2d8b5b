// Package session holds the runtime toggles shared between the control loop,
// which writes them, and the data loop, which polls them once per buffer.
package session

import "sync/atomic"

// Session is safe for concurrent use. The zero value has motion reporting
// off, no alarm threshold and the stats overlay hidden.
type Session struct {
	motion    atomic.Bool
	threshold atomic.Uint32
	showStats atomic.Bool
}

// New returns a Session with the given initial alarm threshold. A non-zero
// threshold implies motion reporting.
func New(threshold uint8) *Session {
	s := &Session{}
	s.SetAlarmThreshold(threshold)
	return s
}

// Motion reports whether motion records should be emitted.
func (s *Session) Motion() bool { return s.motion.Load() }

func (s *Session) SetMotion(on bool) { s.motion.Store(on) }

// AlarmThreshold returns the score above which an alarm record follows the
// motion record. Zero disables alarms.
func (s *Session) AlarmThreshold() uint8 { return uint8(s.threshold.Load()) }

// SetAlarmThreshold stores the threshold and turns motion reporting on for
// any non-zero value, off for zero.
func (s *Session) SetAlarmThreshold(v uint8) {
	s.threshold.Store(uint32(v))
	s.motion.Store(v != 0)
}

func (s *Session) ShowStats() bool { return s.showStats.Load() }

func (s *Session) SetShowStats(on bool) { s.showStats.Store(on) }

// Snapshot is a point-in-time copy of the toggles.
type Snapshot struct {
	Motion         bool  `json:"motion"`
	AlarmThreshold uint8 `json:"alarm_threshold"`
	ShowStats      bool  `json:"show_stats"`
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Motion:         s.Motion(),
		AlarmThreshold: s.AlarmThreshold(),
		ShowStats:      s.ShowStats(),
	}
}
