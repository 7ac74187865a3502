package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		// superusers only; agents read history through the admin API
		collection := core.NewBaseCollection("ticket_events")

		collection.Fields.Add(
			&core.TextField{Name: "ticket_id", Required: true},
			&core.TextField{Name: "ticket_number"},
			&core.TextField{Name: "service_type"},
			&core.SelectField{
				Name:      "event_type",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"enqueued", "assigned", "completed", "no_show", "requeued", "cancelled"},
			},
			&core.TextField{Name: "from_status"},
			&core.TextField{Name: "to_status"},
			&core.TextField{Name: "agent_id"},
			&core.NumberField{Name: "priority", OnlyInt: true},
			&core.NumberField{Name: "wait_seconds", OnlyInt: true},
			&core.DateField{Name: "occurred_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
		)
		collection.AddIndex("idx_ticket_events_ticket", false, "ticket_id, occurred_at", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("ticket_events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
