package users

import (
	"strings"
	"time"

	"github.com/learnaware/tutor/internal/store"
)

const (
	defaultRole     = "student"
	defaultLanguage = "English"
)

// User is a registered student account.
type User struct {
	ID                   string    `bson:"_id,omitempty" json:"id"`
	FullName             string    `bson:"full_name" json:"full_name"`
	Email                string    `bson:"email" json:"email"`
	PasswordHash         string    `bson:"password_hash,omitempty" json:"-"`
	Nickname             string    `bson:"nickname" json:"nickname"`
	Role                 string    `bson:"role" json:"role"`
	PreferredLanguage    string    `bson:"preferred_language" json:"preferred_language"`
	Grade                int       `bson:"grade" json:"grade"`
	SchoolDistrict       string    `bson:"school_district" json:"school_district"`
	SchoolName           string    `bson:"school_name" json:"school_name"`
	LastMathSubjectMarks int       `bson:"last_math_subject_marks" json:"last_math_subject_marks"`
	StudySessionDuration int       `bson:"study_session_duration" json:"study_session_duration"`
	CreatedAt            time.Time `bson:"created_at" json:"created_at"`
}

// Registration is the input for creating a user.
type Registration struct {
	FullName             string `json:"full_name" validate:"required,max=200"`
	Email                string `json:"email" validate:"required,email,max=254"`
	Password             string `json:"password" validate:"omitempty,min=6,max=72"`
	Nickname             string `json:"nickname" validate:"max=100"`
	Role                 string `json:"role" validate:"omitempty,oneof=student parent teacher admin"`
	PreferredLanguage    string `json:"preferred_language" validate:"max=50"`
	Grade                int    `json:"grade" validate:"gte=0,lte=13"`
	SchoolDistrict       string `json:"school_district" validate:"max=200"`
	SchoolName           string `json:"school_name" validate:"max=200"`
	LastMathSubjectMarks int    `json:"last_math_subject_marks" validate:"gte=0,lte=100"`
	StudySessionDuration int    `json:"study_session_duration" validate:"gte=0"`
}

// Update is a partial change to a user. Nil fields are left untouched; the
// email address cannot be changed.
type Update struct {
	FullName             *string `json:"full_name,omitempty" validate:"omitempty,min=1,max=200"`
	Nickname             *string `json:"nickname,omitempty" validate:"omitempty,max=100"`
	PreferredLanguage    *string `json:"preferred_language,omitempty" validate:"omitempty,min=1,max=50"`
	Grade                *int    `json:"grade,omitempty" validate:"omitempty,gte=0,lte=13"`
	SchoolDistrict       *string `json:"school_district,omitempty" validate:"omitempty,max=200"`
	SchoolName           *string `json:"school_name,omitempty" validate:"omitempty,max=200"`
	LastMathSubjectMarks *int    `json:"last_math_subject_marks,omitempty" validate:"omitempty,gte=0,lte=100"`
	StudySessionDuration *int    `json:"study_session_duration,omitempty" validate:"omitempty,gte=0"`
}

// patch returns the storage fields set in u.
func (u Update) patch() store.Document {
	doc := store.Document{}
	setString := func(key string, v *string) {
		if v != nil {
			doc[key] = strings.TrimSpace(*v)
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			doc[key] = *v
		}
	}
	setString("full_name", u.FullName)
	setString("nickname", u.Nickname)
	setString("preferred_language", u.PreferredLanguage)
	setInt("grade", u.Grade)
	setString("school_district", u.SchoolDistrict)
	setString("school_name", u.SchoolName)
	setInt("last_math_subject_marks", u.LastMathSubjectMarks)
	setInt("study_session_duration", u.StudySessionDuration)
	return doc
}

func (r Registration) user(now time.Time) User {
	u := User{
		FullName:             strings.TrimSpace(r.FullName),
		Email:                strings.TrimSpace(r.Email),
		Nickname:             strings.TrimSpace(r.Nickname),
		Role:                 strings.TrimSpace(r.Role),
		PreferredLanguage:    strings.TrimSpace(r.PreferredLanguage),
		Grade:                r.Grade,
		SchoolDistrict:       strings.TrimSpace(r.SchoolDistrict),
		SchoolName:           strings.TrimSpace(r.SchoolName),
		LastMathSubjectMarks: r.LastMathSubjectMarks,
		StudySessionDuration: r.StudySessionDuration,
		CreatedAt:            now,
	}
	if u.Role == "" {
		u.Role = defaultRole
	}
	if u.PreferredLanguage == "" {
		u.PreferredLanguage = defaultLanguage
	}
	return u
}
