package reference

import (
	"github.com/prorroga-chain-server/internal/domain"
)

// DefaultVersion identifies the built-in reference tables.
const DefaultVersion = "builtin-cie10-2026.1"

func upTo(n int) *int { return &n }

func defaultDecayTable() DecayTable {
	return DecayTable{
		ID: DefaultDecayTable,
		Ranges: []DecayRange{
			{From: 0, To: upTo(7), Factor: 1.0},
			{From: 8, To: upTo(15), Factor: 0.9},
			{From: 16, To: upTo(30), Factor: 0.75},
			{From: 31, Factor: 0.5},
		},
	}
}

// DefaultDocument returns the built-in reference data set used when no
// reference file is configured.
func DefaultDocument() *Document {
	return &Document{
		Version: DefaultVersion,
		Chapters: []Chapter{
			{ID: "I", From: "A00", To: "B99", Title: "Certain infectious and parasitic diseases"},
			{ID: "II", From: "C00", To: "D48", Title: "Neoplasms", System: "oncologic"},
			{ID: "III", From: "D50", To: "D89", Title: "Diseases of the blood", System: "hematologic"},
			{ID: "IV", From: "E00", To: "E90", Title: "Endocrine, nutritional and metabolic diseases", System: "endocrine"},
			{ID: "V", From: "F00", To: "F99", Title: "Mental and behavioural disorders", System: "mental"},
			{ID: "VI", From: "G00", To: "G99", Title: "Diseases of the nervous system", System: "nervous"},
			{ID: "VII", From: "H00", To: "H59", Title: "Diseases of the eye and adnexa", System: "eye"},
			{ID: "VIII", From: "H60", To: "H95", Title: "Diseases of the ear and mastoid process", System: "ear"},
			{ID: "IX", From: "I00", To: "I99", Title: "Diseases of the circulatory system", System: "circulatory"},
			{ID: "X", From: "J00", To: "J99", Title: "Diseases of the respiratory system", System: "respiratory"},
			{ID: "XI", From: "K00", To: "K93", Title: "Diseases of the digestive system", System: "digestive"},
			{ID: "XII", From: "L00", To: "L99", Title: "Diseases of the skin", System: "skin"},
			{ID: "XIII", From: "M00", To: "M99", Title: "Diseases of the musculoskeletal system", System: "musculoskeletal"},
			{ID: "XIV", From: "N00", To: "N99", Title: "Diseases of the genitourinary system", System: "genitourinary"},
			{ID: "XV", From: "O00", To: "O99", Title: "Pregnancy, childbirth and the puerperium", System: "obstetric"},
			{ID: "XVI", From: "P00", To: "P96", Title: "Certain conditions originating in the perinatal period"},
			{ID: "XVII", From: "Q00", To: "Q99", Title: "Congenital malformations"},
			{ID: "XVIII", From: "R00", To: "R99", Title: "Symptoms, signs and abnormal findings"},
			{ID: "XIX", From: "S00", To: "T98", Title: "Injury, poisoning and external causes consequences"},
			{ID: "XX", From: "V01", To: "Y98", Title: "External causes of morbidity and mortality"},
			{ID: "XXI", From: "Z00", To: "Z99", Title: "Factors influencing health status"},
			{ID: "XXII", From: "U00", To: "U99", Title: "Codes for special purposes"},
		},
		Blocks: []Block{
			{From: "A00", To: "A09", Title: "Intestinal infectious diseases", System: "digestive", Severity: domain.SEVERITY_LOW},
			{From: "A15", To: "A19", Title: "Tuberculosis", System: "respiratory", Severity: domain.SEVERITY_SEVERE},
			{From: "B15", To: "B19", Title: "Viral hepatitis", System: "digestive", Severity: domain.SEVERITY_MODERATE},
			{From: "C50", To: "C50", Title: "Malignant neoplasm of breast", System: "oncologic", Severity: domain.SEVERITY_VERY_SEVERE},
			{From: "E10", To: "E14", Title: "Diabetes mellitus", System: "endocrine", Severity: domain.SEVERITY_MODERATE},
			{From: "F30", To: "F39", Title: "Mood disorders", System: "mental", Severity: domain.SEVERITY_SEVERE},
			{From: "F40", To: "F48", Title: "Neurotic, stress-related and somatoform disorders", System: "mental", Severity: domain.SEVERITY_MODERATE},
			{From: "G40", To: "G47", Title: "Episodic and paroxysmal disorders", System: "nervous", Severity: domain.SEVERITY_MODERATE},
			{From: "G50", To: "G59", Title: "Nerve, nerve root and plexus disorders", System: "nervous", Severity: domain.SEVERITY_MODERATE},
			{From: "I10", To: "I15", Title: "Hypertensive diseases", System: "circulatory", Severity: domain.SEVERITY_MODERATE},
			{From: "I20", To: "I25", Title: "Ischaemic heart diseases", System: "circulatory", Severity: domain.SEVERITY_VERY_SEVERE},
			{From: "I30", To: "I52", Title: "Other forms of heart disease", System: "circulatory", Severity: domain.SEVERITY_SEVERE},
			{From: "I60", To: "I69", Title: "Cerebrovascular diseases", System: "circulatory", Severity: domain.SEVERITY_VERY_SEVERE},
			{From: "J00", To: "J06", Title: "Acute upper respiratory infections", System: "respiratory", Severity: domain.SEVERITY_LOW},
			{From: "J09", To: "J18", Title: "Influenza and pneumonia", System: "respiratory", Severity: domain.SEVERITY_MODERATE},
			{From: "J20", To: "J22", Title: "Other acute lower respiratory infections", System: "respiratory", Severity: domain.SEVERITY_LOW},
			{From: "J40", To: "J47", Title: "Chronic lower respiratory diseases", System: "respiratory", Severity: domain.SEVERITY_MODERATE},
			{From: "K20", To: "K31", Title: "Diseases of oesophagus, stomach and duodenum", System: "digestive", Severity: domain.SEVERITY_LOW},
			{From: "K35", To: "K38", Title: "Diseases of appendix", System: "digestive", Severity: domain.SEVERITY_MODERATE},
			{From: "K50", To: "K52", Title: "Noninfective enteritis and colitis", System: "digestive", Severity: domain.SEVERITY_MODERATE},
			{From: "K55", To: "K64", Title: "Other diseases of intestines", System: "digestive", Severity: domain.SEVERITY_LOW},
			{From: "M15", To: "M19", Title: "Arthrosis", System: "musculoskeletal", Severity: domain.SEVERITY_MODERATE},
			{From: "M20", To: "M25", Title: "Other joint disorders", System: "musculoskeletal", Severity: domain.SEVERITY_MODERATE},
			{From: "M45", To: "M49", Title: "Spondylopathies", System: "musculoskeletal", Severity: domain.SEVERITY_MODERATE},
			{From: "M50", To: "M54", Title: "Other dorsopathies", System: "musculoskeletal", Severity: domain.SEVERITY_MODERATE},
			{From: "M60", To: "M63", Title: "Disorders of muscles", System: "musculoskeletal", Severity: domain.SEVERITY_LOW},
			{From: "M65", To: "M68", Title: "Disorders of synovium and tendon", System: "musculoskeletal", Severity: domain.SEVERITY_LOW},
			{From: "M70", To: "M79", Title: "Other soft tissue disorders", System: "musculoskeletal", Severity: domain.SEVERITY_LOW},
			{From: "N30", To: "N39", Title: "Other diseases of urinary system", System: "genitourinary", Severity: domain.SEVERITY_LOW},
			{From: "O20", To: "O29", Title: "Other maternal disorders predominantly related to pregnancy", System: "obstetric", Severity: domain.SEVERITY_MODERATE},
			{From: "R50", To: "R69", Title: "General symptoms and signs", System: domain.Unknown, Severity: domain.SEVERITY_INDETERMINATE},
			{From: "S40", To: "S49", Title: "Injuries to the shoulder and upper arm", System: "musculoskeletal", Severity: domain.SEVERITY_MODERATE},
			{From: "S60", To: "S69", Title: "Injuries to the wrist and hand", System: "musculoskeletal", Severity: domain.SEVERITY_MODERATE},
			{From: "S80", To: "S89", Title: "Injuries to the knee and lower leg", System: "musculoskeletal", Severity: domain.SEVERITY_MODERATE},
			{From: "S90", To: "S99", Title: "Injuries to the ankle and foot", System: "musculoskeletal", Severity: domain.SEVERITY_MODERATE},
			{From: "Z00", To: "Z13", Title: "Persons encountering health services for examination", System: domain.Unknown, Severity: domain.SEVERITY_INDETERMINATE},
		},
		Codes: map[string]CodeInfo{
			"A08": {Description: "Viral and other specified intestinal infections", TypicalDays: []int{1, 5}},
			"A09": {Description: "Diarrhoea and gastroenteritis of presumed infectious origin", TypicalDays: []int{1, 5}},
			"E11": {Description: "Type 2 diabetes mellitus", TypicalDays: []int{3, 15}},
			"F32": {Description: "Depressive episode", TypicalDays: []int{15, 90}},
			"F33": {Description: "Recurrent depressive disorder", TypicalDays: []int{30, 120}},
			"F41": {Description: "Other anxiety disorders", TypicalDays: []int{7, 60}},
			"F43": {Description: "Reaction to severe stress, and adjustment disorders", TypicalDays: []int{7, 60}},
			"G43": {Description: "Migraine", TypicalDays: []int{1, 3}},
			"G56": {Description: "Mononeuropathies of upper limb", TypicalDays: []int{7, 45}},
			"I10": {Description: "Essential (primary) hypertension", TypicalDays: []int{1, 7}},
			"I21": {Description: "Acute myocardial infarction", Severity: domain.SEVERITY_VERY_SEVERE, TypicalDays: []int{30, 90}},
			"I50": {Description: "Heart failure", TypicalDays: []int{15, 60}},
			"I63": {Description: "Cerebral infarction", TypicalDays: []int{60, 180}},
			"J00": {Description: "Acute nasopharyngitis [common cold]", TypicalDays: []int{1, 3}},
			"J02": {Description: "Acute pharyngitis", TypicalDays: []int{1, 4}},
			"J03": {Description: "Acute tonsillitis", TypicalDays: []int{2, 5}},
			"J06": {Description: "Acute upper respiratory infections of multiple sites", TypicalDays: []int{1, 5}},
			"J11": {Description: "Influenza, virus not identified", TypicalDays: []int{3, 7}},
			"J18": {Description: "Pneumonia, organism unspecified", TypicalDays: []int{7, 21}},
			"J20": {Description: "Acute bronchitis", TypicalDays: []int{3, 10}},
			"K29": {Description: "Gastritis and duodenitis", TypicalDays: []int{1, 5}},
			"K35": {Description: "Acute appendicitis", TypicalDays: []int{10, 21}},
			"K52": {Description: "Other noninfective gastroenteritis and colitis", TypicalDays: []int{2, 7}},
			"M17": {Description: "Gonarthrosis [arthrosis of knee]", TypicalDays: []int{7, 30}},
			"M23": {Description: "Internal derangement of knee", TypicalDays: []int{10, 45}},
			"M51": {Description: "Other intervertebral disc disorders", Severity: domain.SEVERITY_SEVERE, TypicalDays: []int{15, 60}},
			"M54": {Description: "Dorsalgia", TypicalDays: []int{3, 15}},
			"M75": {Description: "Shoulder lesions", TypicalDays: []int{7, 30}},
			"M79": {Description: "Other soft tissue disorders, not elsewhere classified", TypicalDays: []int{3, 10}},
			"N39": {Description: "Other disorders of urinary system", TypicalDays: []int{2, 5}},
			"R51": {Description: "Headache", TypicalDays: []int{1, 2}},
			"S43": {Description: "Dislocation, sprain and strain of shoulder girdle", TypicalDays: []int{10, 30}},
			"S62": {Description: "Fracture at wrist and hand level", Severity: domain.SEVERITY_SEVERE, TypicalDays: []int{30, 60}},
			"S82": {Description: "Fracture of lower leg, including ankle", Severity: domain.SEVERITY_SEVERE, TypicalDays: []int{45, 90}},
			"S83": {Description: "Dislocation, sprain and strain of joints of knee", TypicalDays: []int{10, 45}},
			"S93": {Description: "Dislocation, sprain and strain of ankle and foot", TypicalDays: []int{7, 21}},
			"Z76": {Description: "Persons encountering health services in other circumstances", Ineligible: true},
		},
		Groups: []CorrelationGroup{
			{
				ID:         "gastrointestinal_infectious",
				Codes:      []string{"A08", "A09", "K29", "K30", "K52", "K59", "R11", "R19"},
				Confidence: 85,
				Rationale:  "Acute gastrointestinal presentations are usually the same episode",
				DecayTable: "acute",
			},
			{
				ID:         "lumbar_radiculopathy",
				Codes:      []string{"M47", "M48", "M51", "M53", "M54", "G54", "G55", "G57", "M79"},
				Confidence: 90,
				Rationale:  "Back pain, disc disease and root compromise form one clinical continuum",
				DecayTable: "chronic",
			},
			{
				ID:         "shoulder",
				Codes:      []string{"M75", "S43", "S46", "M25"},
				Confidence: 85,
				Rationale:  "Shoulder injury followed by tendinopathy or capsulitis",
				DecayTable: "chronic",
			},
			{
				ID:         "knee",
				Codes:      []string{"M17", "M22", "M23", "S83", "S82", "M25"},
				Confidence: 85,
				Rationale:  "Knee injury, internal derangement and arthrosis",
				DecayTable: "chronic",
			},
			{
				ID:         "acute_respiratory",
				Codes:      []string{"J00", "J01", "J02", "J03", "J04", "J06", "J11", "J18", "J20", "J40", "R05"},
				Confidence: 80,
				Rationale:  "Upper and lower respiratory infections progress into each other",
				DecayTable: "acute",
			},
			{
				ID:         "depression_anxiety",
				Codes:      []string{"F32", "F33", "F41", "F43", "F48", "F51"},
				Confidence: 90,
				Rationale:  "Affective and anxiety disorders share course and treatment",
				DecayTable: "chronic",
			},
			{
				ID:             "ischaemic_cardiovascular",
				Codes:          []string{"I10", "I11", "I20", "I21", "I25", "I50"},
				Confidence:     85,
				RequiresReview: true,
				Rationale:      "Ischaemic disease and its sequelae; hypertension alone needs review",
				DecayTable:     "chronic",
			},
			{
				ID:         "hand_wrist",
				Codes:      []string{"G56", "M65", "M70", "S62", "S63", "M19"},
				Confidence: 80,
				Rationale:  "Carpal tunnel, tenosynovitis and wrist injuries",
			},
			{
				ID:         "headache",
				Codes:      []string{"G43", "G44", "R51"},
				Confidence: 80,
				Rationale:  "Primary headache disorders and unspecified headache",
				DecayTable: "acute",
			},
			{
				ID:             "diabetes_complications",
				Codes:          []string{"E10", "E11", "E14", "H36", "N18", "L97"},
				Confidence:     75,
				RequiresReview: true,
				Rationale:      "Diabetes and its end-organ complications",
				DecayTable:     "chronic",
			},
		},
		Exclusions: []ExclusionRule{
			{Codes: [2]string{"K35", "A09"}, Ceiling: 45, Rationale: "Appendicitis is a surgical event, not a continuation of gastroenteritis"},
			{Codes: [2]string{"S82", "M54"}, Blocking: true, Rationale: "Acute fracture is unrelated to mechanical back pain"},
			{Codes: [2]string{"F10", "F32"}, Ceiling: 50, Rationale: "Substance use episodes need separate assessment"},
			{Codes: [2]string{"O80", "O26"}, Blocking: true, Rationale: "Delivery closes the pregnancy-related episode"},
		},
		Directional: []DirectionalRule{
			{Origin: "I21", Destination: "I50", Forward: 90, Reverse: 40, Rationale: "Infarction frequently leads to heart failure"},
			{Origin: "I63", Destination: "G81", Forward: 95, Reverse: 40, Rationale: "Stroke sequelae"},
			{Origin: "S83", Destination: "M23", Forward: 85, Reverse: 45, Rationale: "Knee sprain evolving into internal derangement"},
			{Origin: "M54", Destination: "F32", Forward: 70, Reverse: 45, Rationale: "Chronic pain preceding depression"},
			{Origin: "E11", Destination: "N18", Forward: 85, Reverse: 30, Rationale: "Diabetic nephropathy"},
		},
		DecayTables: []DecayTable{
			defaultDecayTable(),
			{
				ID: "acute",
				Ranges: []DecayRange{
					{From: 0, To: upTo(3), Factor: 1.0},
					{From: 4, To: upTo(7), Factor: 0.9},
					{From: 8, To: upTo(15), Factor: 0.7},
					{From: 16, To: upTo(30), Factor: 0.5},
					{From: 31, Factor: 0.3},
				},
			},
			{
				ID: "chronic",
				Ranges: []DecayRange{
					{From: 0, To: upTo(15), Factor: 1.0},
					{From: 16, To: upTo(30), Factor: 0.95},
					{From: 31, To: upTo(90), Factor: 0.85},
					{From: 91, Factor: 0.7},
				},
			},
		},
		SystemLinks: []SystemLink{
			{Systems: [2]string{"musculoskeletal", "nervous"}, Confidence: 75, Rationale: "Radicular and entrapment syndromes"},
			{Systems: [2]string{"mental", "nervous"}, Confidence: 70, Rationale: "Neuropsychiatric overlap"},
			{Systems: [2]string{"circulatory", "nervous"}, Confidence: 70, Rationale: "Cerebrovascular events"},
			{Systems: [2]string{"endocrine", "circulatory"}, Confidence: 65, Rationale: "Metabolic cardiovascular risk"},
			{Systems: [2]string{"mental", "musculoskeletal"}, Confidence: 65, Rationale: "Chronic pain and mood disorders"},
			{Systems: [2]string{"endocrine", "genitourinary"}, Confidence: 65, Rationale: "Diabetic nephropathy"},
		},
		CausalChapters:     []string{"XIX", "XX"},
		IneligibleChapters: []string{"XX", "XXI"},
		Thresholds: &domain.LegalThresholds{
			Informational: 150,
			High:          170,
			Critical:      180,
		},
	}
}
