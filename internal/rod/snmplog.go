package rod

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// StatsLogger periodically appends a channel's Stats snapshot to a CSV file,
// creating the header row once. Grounded on std/snmp.go's SnmpLogger, which
// drove the same ticker-plus-csv.Writer loop over kcp.DefaultSnmp; here it
// drives a *Channel's own counters instead, since this module's transport
// is the rod engine, not kcp.
func StatsLogger(c *Channel, path string, interval time.Duration) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		logDir, logFile := filepath.Split(path)
		name := logDir + time.Now().Format(logFile)
		f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			log.Println(err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write([]string{"Unix", "BytesSent", "BytesRecv", "Retransmits", "AcksSent", "PacketsDrop"}); err != nil {
				log.Println(err)
			}
		}
		s := c.Stats()
		row := []string{
			fmt.Sprint(time.Now().Unix()),
			fmt.Sprint(s.BytesSent),
			fmt.Sprint(s.BytesRecv),
			fmt.Sprint(s.Retransmits),
			fmt.Sprint(s.AcksSent),
			fmt.Sprint(s.PacketsDrop),
		}
		if err := w.Write(row); err != nil {
			log.Println(err)
		}
		w.Flush()
		f.Close()
	}
}
