package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ZCLValue is one time-series sample of a reported cluster attribute.
type ZCLValue struct {
	DeviceID  int64
	Endpoint  uint8
	Cluster   uint16
	Attribute uint16
	Data      int64
	Timestamp time.Time
}

// trimBatchLimit bounds a single age-based eviction pass so a trim
// never stalls the commit for long.
const trimBatchLimit = 1000

// zclInsertSQL renders the textual INSERT for the query queue. The
// timestamp is the final value so queue deduplication can compare
// statements up to it.
func zclInsertSQL(v ZCLValue) string {
	return fmt.Sprintf(
		"INSERT INTO zcl_values (device_id, endpoint, cluster, attribute, data, timestamp) VALUES (%d, %d, %d, %d, %d, %d)",
		v.DeviceID, v.Endpoint, v.Cluster, v.Attribute, v.Data, v.Timestamp.Unix())
}

// zclStatementKey strips the trailing timestamp from a queued INSERT
// so samples differing only in timestamp compare equal.
func zclStatementKey(stmt string) string {
	idx := strings.LastIndexByte(stmt, ',')
	if idx < 0 {
		return stmt
	}
	return stmt[:idx]
}

// zclTrimSQL renders the bounded age-based eviction statement.
func zclTrimSQL(maxAge int64, now time.Time) string {
	cutoff := now.Unix() - maxAge
	return fmt.Sprintf(
		"DELETE FROM zcl_values WHERE id IN (SELECT id FROM zcl_values WHERE timestamp < %d LIMIT %d)",
		cutoff, trimBatchLimit)
}

func isZCLTrimStatement(stmt string) bool {
	return strings.HasPrefix(stmt, "DELETE FROM zcl_values")
}

// LoadZCLValues reads samples for one attribute since a point in time,
// newest first.
func (s *Store) LoadZCLValues(deviceID int64, endpoint uint8, cluster, attribute uint16, since time.Time) ([]ZCLValue, error) {
	var out []ZCLValue
	err := s.queryRows(`SELECT device_id, endpoint, cluster, attribute, data, timestamp FROM zcl_values
	    WHERE device_id = ? AND endpoint = ? AND cluster = ? AND attribute = ? AND timestamp >= ?
	    ORDER BY timestamp DESC`, func(rows *sql.Rows) error {
		var (
			v    ZCLValue
			ep   int64
			cl   int64
			attr int64
			ts   int64
		)
		if err := rows.Scan(&v.DeviceID, &ep, &cl, &attr, &v.Data, &ts); err != nil {
			return err
		}
		v.Endpoint = uint8(ep)
		v.Cluster = uint16(cl)
		v.Attribute = uint16(attr)
		v.Timestamp = secondsToTime(ts)
		out = append(out, v)
		return nil
	}, deviceID, int64(endpoint), int64(cluster), int64(attribute), since.Unix())
	return out, err
}
