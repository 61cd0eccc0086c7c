package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/sensor"
)

// Journal stores events in a bbolt file: one bucket per sensor, keyed by
// event ID, JSON values.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens or creates the journal file at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapFatal(err, "Journal", "OpenJournal", fmt.Sprintf("open %s", path))
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Name() string { return "journal" }

func (j *Journal) Push(_ context.Context, e sensor.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "Journal", "Push", "marshal event")
	}
	err = j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(e.Sensor))
		if err != nil {
			return err
		}
		return b.Put([]byte(e.ID), data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Journal", "Push", "store event")
	}
	return nil
}

// Events returns the stored events of one sensor ordered by timestamp.
func (j *Journal) Events(sensorName string) ([]sensor.Event, error) {
	var events []sensor.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sensorName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e sensor.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, e)
			return nil
		})
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Journal", "Events", "read events")
	}
	slices.SortStableFunc(events, func(a, b sensor.Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return events, nil
}

// Sensors returns the names of sensors with stored events.
func (j *Journal) Sensors() ([]string, error) {
	var names []string
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// Close closes the journal file.
func (j *Journal) Close() error {
	return j.db.Close()
}
