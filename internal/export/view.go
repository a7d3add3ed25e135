package export

import (
	"strings"

	"resume-extractor/internal/types"
)

// NotAvailable 缺失字段的展示值
const NotAvailable = "N/A"

// ExperienceView 一段工作经历的展示形式
type ExperienceView struct {
	Position    string `json:"position"`
	Company     string `json:"company"`
	Duration    string `json:"duration,omitempty"`
	Description string `json:"description,omitempty"`
}

// EducationView 一段教育经历的展示形式
type EducationView struct {
	Degree         string `json:"degree"`
	Institution    string `json:"institution"`
	GraduationYear string `json:"graduation_year,omitempty"`
}

// ProfileView 档案的展示形式，缺失的基本信息显示为 N/A
type ProfileView struct {
	FileName       string           `json:"file_name"`
	Name           string           `json:"name"`
	Email          string           `json:"email"`
	Phone          string           `json:"phone"`
	Location       string           `json:"location"`
	Summary        string           `json:"summary,omitempty"`
	Skills         string           `json:"skills,omitempty"`
	Experience     []ExperienceView `json:"experience,omitempty"`
	Education      []EducationView  `json:"education,omitempty"`
	Certifications []string         `json:"certifications,omitempty"`
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

// NewProfileView 构建展示视图，profile 为 nil 时基本信息全部为 N/A
func NewProfileView(fileName string, p *types.CandidateProfile) ProfileView {
	if p == nil {
		p = &types.CandidateProfile{}
	}
	view := ProfileView{
		FileName:       fileName,
		Name:           strings.TrimSpace(orNA(p.FirstName) + " " + orNA(p.LastName)),
		Email:          orNA(p.Email),
		Phone:          orNA(p.Phone),
		Location:       orNA(p.Location),
		Summary:        p.Summary,
		Skills:         strings.Join(p.Skills, ", "),
		Certifications: p.Certifications,
	}
	for _, e := range p.Experience {
		view.Experience = append(view.Experience, ExperienceView{
			Position:    orNA(e.Position),
			Company:     orNA(e.Company),
			Duration:    e.Duration,
			Description: e.Description,
		})
	}
	for _, e := range p.Education {
		view.Education = append(view.Education, EducationView{
			Degree:         orNA(e.Degree),
			Institution:    orNA(e.Institution),
			GraduationYear: e.GraduationYear,
		})
	}
	return view
}
