package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("service_types")
		collection.ListRule = types.Pointer("")
		collection.ViewRule = types.Pointer("")

		collection.Fields.Add(
			&core.TextField{Name: "code", Required: true, Max: 32, Pattern: `^[a-z0-9_-]+$`, Presentable: true},
			&core.TextField{Name: "name", Required: true, Max: 120},
			&core.TextField{Name: "ticket_prefix", Max: 8},
			&core.NumberField{Name: "priority_weight", OnlyInt: true},
			&core.NumberField{Name: "estimated_minutes", OnlyInt: true},
			&core.NumberField{Name: "rank", OnlyInt: true},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_service_types_code", true, "code", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("service_types")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
