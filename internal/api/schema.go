package api

import (
	"net/http"
	"strings"
)

const patientColumn = "patient_id"

type ExampleCategory struct {
	Name      string   `json:"name"`
	Questions []string `json:"questions"`
}

// ExampleQuestions are offered to clinicians as starting points.
var ExampleQuestions = []ExampleCategory{
	{
		Name: "Patient-Specific",
		Questions: []string{
			"What is the average QoL score for patient P001?",
			"Show me all seizure events for patient P002 in the last month",
			"List all assessments for patient P003",
		},
	},
	{
		Name: "Comparative Analysis",
		Questions: []string{
			"Which patients had the highest anxiety scores?",
			"Compare medication dosages between patients P001 and P003",
			"Show me patients with QoL scores below 50",
		},
	},
	{
		Name: "Trend Analysis",
		Questions: []string{
			"Show me the trend of behavioral scores for patient P004",
			"What's the correlation between medication Med A dosage and seizure frequency?",
		},
	},
	{
		Name: "Statistical Queries",
		Questions: []string{
			"What is the average number of seizures per patient?",
			"How many severe seizures did patient P005 have in total?",
		},
	},
}

type dataOverview struct {
	Tables   int    `json:"tables"`
	Records  int64  `json:"records"`
	Patients *int64 `json:"patients,omitempty"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	overview := dataOverview{Tables: len(deps.Schema.Tables), Records: deps.Schema.TotalRows()}

	var patientTables []string
	for _, table := range deps.Schema.Tables {
		for _, column := range table.Columns {
			if strings.EqualFold(column.Name, patientColumn) {
				patientTables = append(patientTables, table.Name)
				break
			}
		}
	}
	if deps.Stats != nil && len(patientTables) > 0 {
		patients, err := deps.Stats.CountDistinct(r.Context(), patientColumn, patientTables)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "OVERVIEW_FAILED", "failed to compute data overview", true, map[string]any{"details": err.Error()})
			return
		}
		overview.Patients = &patients
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tables":   deps.Schema.Tables,
		"overview": overview,
	})
}
