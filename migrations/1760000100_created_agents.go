package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewAuthCollection("agents")
		collection.ViewRule = types.Pointer("id = @request.auth.id")
		collection.UpdateRule = nil
		collection.CreateRule = nil

		collection.Fields.Add(
			&core.TextField{Name: "name", Max: 120, Presentable: true},
			&core.SelectField{Name: "role", Values: []string{"agent", "admin"}, MaxSelect: 1},
			&core.BoolField{Name: "active"},
			&core.JSONField{Name: "service_types", MaxSize: 4096},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("agents")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
