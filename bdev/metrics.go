package bdev

import "github.com/prometheus/client_golang/prometheus"

/// Collector_t exports the operation counters of the attached devices in
/// the prometheus format.
type Collector_t struct {
	disks     map[string]Disk_i
	readDesc  *prometheus.Desc
	writeDesc *prometheus.Desc
}

/// MkCollector builds a collector over a name -> device map.
func MkCollector(disks map[string]Disk_i) *Collector_t {
	return &Collector_t{
		disks: disks,
		readDesc: prometheus.NewDesc(
			"wafer_disk_reads_total",
			"Sector reads issued to the device.",
			[]string{"device"}, nil),
		writeDesc: prometheus.NewDesc(
			"wafer_disk_writes_total",
			"Sector writes issued to the device.",
			[]string{"device"}, nil),
	}
}

/// Describe implements prometheus.Collector.
func (c *Collector_t) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.readDesc
	ch <- c.writeDesc
}

/// Collect implements prometheus.Collector.
func (c *Collector_t) Collect(ch chan<- prometheus.Metric) {
	for name, d := range c.disks {
		st := d.Stats()
		ch <- prometheus.MustNewConstMetric(c.readDesc,
			prometheus.CounterValue, float64(st.Nreads), name)
		ch <- prometheus.MustNewConstMetric(c.writeDesc,
			prometheus.CounterValue, float64(st.Nwrites), name)
	}
}
