package model

import "time"

// FulfillmentJob элемент очереди. Хранит только ссылку на бронирование,
// копии данных бронирования нет, поэтому расхождений быть не может.
type FulfillmentJob struct {
	ID             string     `json:"id"`
	BookingID      string     `json:"booking_id"`
	Attempt        int        `json:"attempt"` // номер текущей попытки, с 1
	NextRunAt      time.Time  `json:"next_run_at"`
	LastError      *string    `json:"last_error"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
}
