package clinical

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category 表示摘要中的一类临床要点。
type Category string

const (
	Symptom    Category = "symptom"
	Medication Category = "medication"
	FollowUp   Category = "follow_up"
)

// Findings 是从对话文本中抽取出的要点，按首次出现排序。
type Findings struct {
	Symptoms    []string
	Medications []string
	FollowUp    []string
	// Score 为命中的关键词总数，0 表示没有任何临床信息。
	Score int
}

// Empty 判断是否没有命中任何关键词。
func (f Findings) Empty() bool {
	return f.Score == 0
}

type term struct {
	label    string
	keywords []string
}

// 每个术语的 label 即规范名称，keywords 为同义词或其他语言的写法。
// 关键词按整词匹配；以 * 结尾的只要求词首对齐（cough* 可匹配 coughing）。
// 汉字关键词没有词边界，按子串匹配。
var keywordBuckets = map[Category][]term{
	Symptom: {
		{"headache", []string{"headache*", "migraine*", "dolor de cabeza", "mal de tête", "kopfschmerz*", "cefalea", "dor de cabeça", "头痛"}},
		{"fever", []string{"fever*", "high temperature", "running a temperature", "fiebre", "fièvre", "fieber", "febre", "发烧", "发热"}},
		{"cough", []string{"cough*", "tos", "toux", "husten", "tosse", "咳嗽"}},
		{"chest pain", []string{"chest pain", "dolor de pecho", "douleur thoracique", "brustschmerz*", "dor no peito", "胸痛"}},
		{"shortness of breath", []string{"shortness of breath", "short of breath", "can't breathe", "falta de aire", "essoufflement", "atemnot", "falta de ar", "呼吸困难"}},
		{"nausea", []string{"nausea", "nauseous", "náusea", "nausée", "übelkeit", "恶心"}},
		{"vomiting", []string{"vomit*", "throwing up", "vómito", "vomissement", "erbrechen", "vômito", "呕吐"}},
		{"dizziness", []string{"dizzy", "dizziness", "mareo", "vertige", "schwindel", "tontura", "头晕"}},
		{"abdominal pain", []string{"stomach ache", "stomach pain", "abdominal pain", "dolor de estómago", "mal au ventre", "bauchschmerz*", "dor de barriga", "肚子疼", "腹痛"}},
		{"fatigue", []string{"tired", "fatigue", "exhausted", "cansado", "fatigué", "müde", "疲劳", "乏力"}},
		{"rash", []string{"rash*", "sarpullido", "erupción", "éruption", "ausschlag", "erupção", "皮疹"}},
		{"sore throat", []string{"sore throat", "dolor de garganta", "mal de gorge", "halsschmerz*", "dor de garganta", "喉咙痛"}},
		{"back pain", []string{"back pain", "dolor de espalda", "mal de dos", "rückenschmerz*", "dor nas costas", "背痛", "腰痛"}},
		{"diarrhea", []string{"diarrhea", "diarrhoea", "diarrea", "diarrhée", "durchfall", "diarreia", "腹泻"}},
		{"insomnia", []string{"can't sleep", "insomnia", "insomnio", "insomnie", "schlaflos", "insônia", "失眠"}},
	},
	Medication: {
		{"ibuprofen", []string{"ibuprofen", "ibuprofeno", "ibuprofène", "advil", "motrin", "布洛芬"}},
		{"acetaminophen", []string{"acetaminophen", "paracetamol", "paracétamol", "tylenol", "对乙酰氨基酚"}},
		{"aspirin", []string{"aspirin", "aspirina", "aspirine", "阿司匹林"}},
		{"amoxicillin", []string{"amoxicillin", "amoxicilina", "amoxicilline", "阿莫西林"}},
		{"antibiotics", []string{"antibiotic*", "antibiótico*", "antibiotique*", "抗生素"}},
		{"insulin", []string{"insulin", "insulina", "insuline", "胰岛素"}},
		{"metformin", []string{"metformin", "metformina", "metformine", "二甲双胍"}},
		{"lisinopril", []string{"lisinopril"}},
		{"omeprazole", []string{"omeprazole", "omeprazol", "奥美拉唑"}},
		{"inhaler", []string{"inhaler*", "inhalador", "inhalateur", "吸入器"}},
	},
	FollowUp: {
		{"follow-up visit", []string{"follow up", "follow-up", "come back", "return in", "seguimiento", "vuelva", "revenir", "wiederkommen", "retorno", "复诊"}},
		{"blood test", []string{"blood test*", "blood work", "análisis de sangre", "prise de sang", "bluttest", "exame de sangue", "验血"}},
		{"imaging", []string{"x-ray*", "xray*", "ct scan*", "mri", "ultrasound", "radiografía", "radiographie", "röntgen", "ecografía", "拍片"}},
		{"referral to specialist", []string{"specialist*", "referral*", "refer you", "especialista", "spécialiste", "facharzt", "专科"}},
		{"emergency care if worse", []string{"emergency", "urgencias", "urgences", "notaufnahme", "emergência", "急诊"}},
		{"rest and fluids", []string{"drink water", "drink plenty", "fluids", "get some rest", "bed rest", "líquidos", "descanse", "reposez", "ruhe", "多喝水", "休息"}},
	},
}

// Analyze 扫描一组文本，返回命中的症状、药物与随访事项。
func Analyze(texts ...string) Findings {
	firstSeen := make(map[Category]map[string]int)
	for category := range keywordBuckets {
		firstSeen[category] = make(map[string]int)
	}

	score := 0
	position := 0
	for _, text := range texts {
		normalized := strings.TrimSpace(strings.ToLower(text))
		if normalized == "" {
			continue
		}
		for category, terms := range keywordBuckets {
			for _, t := range terms {
				if !containsAny(normalized, t.keywords) {
					continue
				}
				score++
				if _, ok := firstSeen[category][t.label]; !ok {
					firstSeen[category][t.label] = position
				}
			}
		}
		position++
	}

	return Findings{
		Symptoms:    ordered(firstSeen[Symptom]),
		Medications: ordered(firstSeen[Medication]),
		FollowUp:    ordered(firstSeen[FollowUp]),
		Score:       score,
	}
}

func containsAny(text string, keywords []string) bool {
	for _, word := range keywords {
		if word != "" && containsKeyword(text, strings.ToLower(word)) {
			return true
		}
	}
	return false
}

// containsKeyword 在 text 中查找 keyword，要求命中位置落在词边界上。
func containsKeyword(text, keyword string) bool {
	prefix := strings.HasSuffix(keyword, "*")
	keyword = strings.TrimSuffix(keyword, "*")
	if keyword == "" {
		return false
	}
	if hasHan(keyword) {
		return strings.Contains(text, keyword)
	}

	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], keyword)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(keyword)

		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (start == 0 || !isWordRune(before)) && (prefix || end == len(text) || !isWordRune(after)) {
			return true
		}

		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// ordered 按首次出现的位置排序，位置相同则按名称排序，保证输出稳定。
func ordered(seen map[string]int) []string {
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool {
		if seen[out[i]] != seen[out[j]] {
			return seen[out[i]] < seen[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
