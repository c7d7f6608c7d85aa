package demo

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
)

// WriteDataset generates the dataset and writes one file per table into the
// configured directory. It returns the written paths.
func WriteDataset(cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create demo dir: %w", err)
	}
	data := NewGenerator(cfg).Generate()

	paths := make([]string, 0, 3)
	write := func(table string, csvWrite func(*csv.Writer) error, parquetWrite func(*os.File) error) error {
		path := filepath.Join(cfg.Directory, table+"."+cfg.Format)
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer func() { _ = file.Close() }()
		if cfg.Format == FormatParquet {
			err = parquetWrite(file)
		} else {
			w := csv.NewWriter(file)
			if err = csvWrite(w); err == nil {
				w.Flush()
				err = w.Error()
			}
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		paths = append(paths, path)
		return nil
	}

	if err := write("assessments", func(w *csv.Writer) error {
		rows := [][]string{{"patient_id", "date", "qol_score", "anxiety_score", "depression_score", "behavioral_score"}}
		for _, a := range data.Assessments {
			rows = append(rows, []string{a.PatientID, day(a.Date), itoa(a.QoLScore), itoa(a.AnxietyScore), itoa(a.DepressionScore), itoa(a.BehavioralScore)})
		}
		return w.WriteAll(rows)
	}, func(f *os.File) error {
		return writeParquet(f, data.Assessments)
	}); err != nil {
		return nil, err
	}

	if err := write("medications", func(w *csv.Writer) error {
		rows := [][]string{{"patient_id", "date", "med_a_mg", "med_b_mg", "med_c_mg", "med_d_mg", "med_e_mg"}}
		for _, m := range data.Medications {
			rows = append(rows, []string{m.PatientID, day(m.Date), ftoa(m.MedA), ftoa(m.MedB), ftoa(m.MedC), ftoa(m.MedD), ftoa(m.MedE)})
		}
		return w.WriteAll(rows)
	}, func(f *os.File) error {
		return writeParquet(f, data.Medications)
	}); err != nil {
		return nil, err
	}

	if err := write("seizures", func(w *csv.Writer) error {
		rows := [][]string{{"patient_id", "date", "daily_total", "daily_severe", "seizure_type", "medication_missed", "called_911"}}
		for _, s := range data.Seizures {
			rows = append(rows, []string{s.PatientID, day(s.Date), itoa(s.DailyTotal), itoa(s.DailySevere), s.SeizureType, strconv.FormatBool(s.MedicationMissed), strconv.FormatBool(s.Called911)})
		}
		return w.WriteAll(rows)
	}, func(f *os.File) error {
		return writeParquet(f, data.Seizures)
	}); err != nil {
		return nil, err
	}

	return paths, nil
}

func writeParquet[T any](f *os.File, rows []T) error {
	writer := parquet.NewGenericWriter[T](f)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func day(t time.Time) string {
	return t.Format(time.DateOnly)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
