package validators

import "go.mongodb.org/mongo-driver/bson"

// AppointmentValidator mirrors model.Appointment. Participant ids are
// stored as ObjectID hex strings.
var AppointmentValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"farmer_id",
			"expert_id",
			"status",
			"requested_at",
			"updated_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"farmer_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"expert_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"pending",
					"accepted",
					"declined",
				},
			},

			"requested_at": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},

			"responded_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
