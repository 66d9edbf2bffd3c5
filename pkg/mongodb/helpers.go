package mongodb

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GenerateIDString generates a new MongoDB ObjectID as a string
func GenerateIDString() string {
	return primitive.NewObjectID().Hex()
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// BuildUpdateWithTimestamp builds a $set update that also stamps updatedAt.
func BuildUpdateWithTimestamp(set bson.M) bson.M {
	set["updatedAt"] = Now()
	return bson.M{"$set": set}
}

// SortAscending creates an ascending sort option
func SortAscending(field string) bson.D {
	return bson.D{{Key: field, Value: 1}}
}

// Decimal128 converts a decimal to its BSON representation. Values outside
// the Decimal128 range collapse to zero.
func Decimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

// Decimal converts a stored Decimal128 back to a decimal. NaN and infinities
// read as zero.
func Decimal(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
