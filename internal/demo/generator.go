package demo

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Assessment struct {
	PatientID       string    `parquet:"patient_id"`
	Date            time.Time `parquet:"date,timestamp"`
	QoLScore        int64     `parquet:"qol_score"`
	AnxietyScore    int64     `parquet:"anxiety_score"`
	DepressionScore int64     `parquet:"depression_score"`
	BehavioralScore int64     `parquet:"behavioral_score"`
}

// Medication holds daily dosages in milligrams for the five tracked drugs.
type Medication struct {
	PatientID string    `parquet:"patient_id"`
	Date      time.Time `parquet:"date,timestamp"`
	MedA      float64   `parquet:"med_a_mg"`
	MedB      float64   `parquet:"med_b_mg"`
	MedC      float64   `parquet:"med_c_mg"`
	MedD      float64   `parquet:"med_d_mg"`
	MedE      float64   `parquet:"med_e_mg"`
}

type Seizure struct {
	PatientID        string    `parquet:"patient_id"`
	Date             time.Time `parquet:"date,timestamp"`
	DailyTotal       int64     `parquet:"daily_total"`
	DailySevere      int64     `parquet:"daily_severe"`
	SeizureType      string    `parquet:"seizure_type"`
	MedicationMissed bool      `parquet:"medication_missed"`
	Called911        bool      `parquet:"called_911"`
}

type Dataset struct {
	Assessments []Assessment
	Medications []Medication
	Seizures    []Seizure
}

var seizureTypes = []string{"tonic-clonic", "spasms", "absence"}

type patientProfile struct {
	id           string
	baselineQoL  float64
	anxiety      float64
	depression   float64
	behavioral   float64
	seizureRate  float64
	doses        [5]float64
	missedChance float64
}

// Generator produces a deterministic dataset for a seed.
type Generator struct {
	rnd *rand.Rand
	cfg Config
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(cfg.Seed)), cfg: cfg}
}

func PatientID(n int) string {
	return fmt.Sprintf("P%03d", n)
}

func (g *Generator) Generate() Dataset {
	profiles := make([]patientProfile, 0, g.cfg.Patients)
	for i := 1; i <= g.cfg.Patients; i++ {
		profiles = append(profiles, g.profile(i))
	}

	var out Dataset
	start := g.cfg.StartDate.UTC().Truncate(24 * time.Hour)
	for day := 0; day < g.cfg.Days; day++ {
		date := start.AddDate(0, 0, day)
		for _, p := range profiles {
			seizure := g.seizure(p, date)
			out.Seizures = append(out.Seizures, seizure)
			out.Medications = append(out.Medications, g.medication(p, date, seizure.MedicationMissed))
			// Assessments are recorded weekly.
			if day%7 == 0 {
				out.Assessments = append(out.Assessments, g.assessment(p, date, day))
			}
		}
	}
	return out
}

func (g *Generator) profile(n int) patientProfile {
	p := patientProfile{
		id:           PatientID(n),
		baselineQoL:  45 + g.rnd.Float64()*40,
		anxiety:      3 + g.rnd.Float64()*14,
		depression:   3 + g.rnd.Float64()*18,
		behavioral:   40 + g.rnd.Float64()*50,
		seizureRate:  0.2 + g.rnd.Float64()*1.8,
		missedChance: 0.02 + g.rnd.Float64()*0.1,
	}
	for i := range p.doses {
		// Roughly two in five patients are not prescribed a given drug.
		if g.rnd.Intn(5) < 2 {
			continue
		}
		p.doses[i] = float64(25 * (1 + g.rnd.Intn(16)))
	}
	return p
}

func (g *Generator) assessment(p patientProfile, date time.Time, day int) Assessment {
	trend := float64(day) / float64(g.cfg.Days) * 6
	return Assessment{
		PatientID:       p.id,
		Date:            date,
		QoLScore:        clampInt(p.baselineQoL+trend+g.rnd.NormFloat64()*5, 0, 100),
		AnxietyScore:    clampInt(p.anxiety+g.rnd.NormFloat64()*2, 0, 21),
		DepressionScore: clampInt(p.depression+g.rnd.NormFloat64()*2.5, 0, 27),
		BehavioralScore: clampInt(p.behavioral+trend+g.rnd.NormFloat64()*6, 0, 100),
	}
}

func (g *Generator) medication(p patientProfile, date time.Time, missed bool) Medication {
	doses := p.doses
	if missed {
		doses = [5]float64{}
	}
	return Medication{
		PatientID: p.id,
		Date:      date,
		MedA:      doses[0],
		MedB:      doses[1],
		MedC:      doses[2],
		MedD:      doses[3],
		MedE:      doses[4],
	}
}

func (g *Generator) seizure(p patientProfile, date time.Time) Seizure {
	missed := g.rnd.Float64() < p.missedChance
	rate := p.seizureRate
	if missed {
		rate *= 2.5
	}
	total := g.poisson(rate)
	s := Seizure{
		PatientID:        p.id,
		Date:             date,
		DailyTotal:       total,
		MedicationMissed: missed,
	}
	if total == 0 {
		return s
	}
	for i := int64(0); i < total; i++ {
		if g.rnd.Float64() < 0.25 {
			s.DailySevere++
		}
	}
	s.SeizureType = seizureTypes[g.rnd.Intn(len(seizureTypes))]
	s.Called911 = s.DailySevere > 0 && g.rnd.Float64() < 0.15
	return s
}

func (g *Generator) poisson(lambda float64) int64 {
	limit := math.Exp(-lambda)
	var k int64
	p := 1.0
	for {
		p *= g.rnd.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}

func clampInt(value, lo, hi float64) int64 {
	return int64(math.Round(math.Max(lo, math.Min(hi, value))))
}
