package daq

import "sync/atomic"

// Metrics contains atomic counters of a Controller.
// Each field can be used as the value of a prometheus CounterFunc or GaugeFunc, see the metrics
// package.
type Metrics struct {
	// ConnectCount indicates the number of successful connects.
	ConnectCount atomic.Uint64
	// ConnectErrCount indicates the number of failed connects.
	ConnectErrCount atomic.Uint64

	// ConfigureCount indicates the number of configurations accepted by the daq.
	ConfigureCount atomic.Uint64
	// ConfigureErrCount indicates the number of configurations rejected by the daq.
	ConfigureErrCount atomic.Uint64

	// KickoffCount indicates the number of kickoffs requested.
	KickoffCount atomic.Uint64
	// KickoffErrCount indicates the number of kickoffs resolved as failed.
	KickoffErrCount atomic.Uint64
	// BeginCount indicates the number of begin commands issued to the daq.
	BeginCount atomic.Uint64

	// StopCount indicates the number of stop commands issued to the daq.
	StopCount atomic.Uint64
	// EndRunCount indicates the number of runs ended.
	EndRunCount atomic.Uint64

	// InflightOps indicates the number of unresolved asynchronous operations.
	InflightOps atomic.Int64
}

func (m *Metrics) incConnectCount()      { m.ConnectCount.Add(1) }
func (m *Metrics) incConnectErrCount()   { m.ConnectErrCount.Add(1) }
func (m *Metrics) incConfigureCount()    { m.ConfigureCount.Add(1) }
func (m *Metrics) incConfigureErrCount() { m.ConfigureErrCount.Add(1) }
func (m *Metrics) incKickoffCount()      { m.KickoffCount.Add(1) }
func (m *Metrics) incKickoffErrCount()   { m.KickoffErrCount.Add(1) }
func (m *Metrics) incBeginCount()        { m.BeginCount.Add(1) }
func (m *Metrics) incStopCount()         { m.StopCount.Add(1) }
func (m *Metrics) incEndRunCount()       { m.EndRunCount.Add(1) }
func (m *Metrics) incInflightOps()       { m.InflightOps.Add(1) }
func (m *Metrics) decInflightOps()       { m.InflightOps.Add(-1) }
