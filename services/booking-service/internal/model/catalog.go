package model

import "time"

type Service struct {
	ID         string
	TenantID   string
	Name       string
	Duration   time.Duration
	PriceCents int64
	Active     bool
	Public     bool
	PreMessage PreMessage
}

// PreMessage is a service specific instruction sent ahead of the appointment.
type PreMessage struct {
	Enabled  bool
	LeadTime time.Duration
	Text     string
}

type Professional struct {
	ID            string
	TenantID      string
	Name          string
	Specialty     string
	Phone         string
	Email         string
	NotifyEnabled bool
	Active        bool
}

// WorkingHours is one weekday of a professional's schedule in minutes after local midnight.
type WorkingHours struct {
	ProfessionalID string
	Weekday        time.Weekday
	IsWorking      bool
	StartMinute    int
	EndMinute      int
}
