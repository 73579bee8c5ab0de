package model

import "fmt"

type ActorKind string

const (
	ActorClient ActorKind = "client"
	ActorStaff  ActorKind = "staff"
	ActorSystem ActorKind = "system"
)

// Actor кто инициировал изменение статуса
type Actor struct {
	Kind       ActorKind `json:"kind"`
	ID         string    `json:"id"`
	TelegramID int64     `json:"telegram_id,omitempty"` // для персонала из бота
}

// SystemActor используется воркером фулфилмента
var SystemActor = Actor{Kind: ActorSystem, ID: "fulfillment"}

// StaffFromTelegram актор-сотрудник по Telegram ID
func StaffFromTelegram(telegramID int64, username string) Actor {
	id := username
	if id == "" {
		id = fmt.Sprintf("tg:%d", telegramID)
	}
	return Actor{Kind: ActorStaff, ID: id, TelegramID: telegramID}
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Kind, a.ID)
}
