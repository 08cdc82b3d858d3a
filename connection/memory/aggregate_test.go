package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func orders() []bson.D {
	return []bson.D{
		{{Key: "_id", Value: int32(1)}, {Key: "customer", Value: "ann"}, {Key: "total", Value: int32(30)}, {Key: "items", Value: bson.A{"pen", "ink"}}},
		{{Key: "_id", Value: int32(2)}, {Key: "customer", Value: "bob"}, {Key: "total", Value: int32(10)}, {Key: "items", Value: bson.A{"pad"}}},
		{{Key: "_id", Value: int32(3)}, {Key: "customer", Value: "ann"}, {Key: "total", Value: int32(20)}, {Key: "items", Value: bson.A{}}},
	}
}

func TestRunPipeline(t *testing.T) {
	tests := []struct {
		name     string
		pipeline bson.A
		want     []bson.D
	}{
		{
			name:     "match and sort",
			pipeline: bson.A{bson.D{{Key: "$match", Value: bson.D{{Key: "customer", Value: "ann"}}}}, bson.D{{Key: "$sort", Value: bson.D{{Key: "total", Value: int32(1)}}}}},
			want: []bson.D{
				{{Key: "_id", Value: int32(3)}, {Key: "customer", Value: "ann"}, {Key: "total", Value: int32(20)}, {Key: "items", Value: bson.A{}}},
				{{Key: "_id", Value: int32(1)}, {Key: "customer", Value: "ann"}, {Key: "total", Value: int32(30)}, {Key: "items", Value: bson.A{"pen", "ink"}}},
			},
		},
		{
			name:     "skip and limit",
			pipeline: bson.A{bson.D{{Key: "$skip", Value: int32(1)}}, bson.D{{Key: "$limit", Value: int32(1)}}, bson.D{{Key: "$project", Value: bson.D{{Key: "customer", Value: int32(1)}}}}},
			want:     []bson.D{{{Key: "_id", Value: int32(2)}, {Key: "customer", Value: "bob"}}},
		},
		{
			name: "group by customer",
			pipeline: bson.A{bson.D{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: "$customer"},
				{Key: "spent", Value: bson.D{{Key: "$sum", Value: "$total"}}},
				{Key: "orders", Value: bson.D{{Key: "$count", Value: bson.D{}}}},
			}}}},
			want: []bson.D{
				{{Key: "_id", Value: "ann"}, {Key: "spent", Value: int32(50)}, {Key: "orders", Value: int32(2)}},
				{{Key: "_id", Value: "bob"}, {Key: "spent", Value: int32(10)}, {Key: "orders", Value: int32(1)}},
			},
		},
		{
			name:     "unwind drops empty arrays",
			pipeline: bson.A{bson.D{{Key: "$unwind", Value: "$items"}}, bson.D{{Key: "$project", Value: bson.D{{Key: "_id", Value: int32(0)}, {Key: "items", Value: int32(1)}}}}},
			want: []bson.D{
				{{Key: "items", Value: "pen"}},
				{{Key: "items", Value: "ink"}},
				{{Key: "items", Value: "pad"}},
			},
		},
		{
			name:     "count",
			pipeline: bson.A{bson.D{{Key: "$count", Value: "n"}}},
			want:     []bson.D{{{Key: "n", Value: int32(3)}}},
		},
		{
			name:     "count of nothing",
			pipeline: bson.A{bson.D{{Key: "$match", Value: bson.D{{Key: "customer", Value: "zed"}}}}, bson.D{{Key: "$count", Value: "n"}}},
			want:     nil,
		},
		{
			name: "addFields with expression",
			pipeline: bson.A{
				bson.D{{Key: "$match", Value: bson.D{{Key: "_id", Value: int32(2)}}}},
				bson.D{{Key: "$addFields", Value: bson.D{{Key: "label", Value: bson.D{{Key: "$concat", Value: bson.A{"$customer", "-", bson.D{{Key: "$toString", Value: "$total"}}}}}}}}},
				bson.D{{Key: "$project", Value: bson.D{{Key: "label", Value: int32(1)}}}},
			},
			want: []bson.D{{{Key: "_id", Value: int32(2)}, {Key: "label", Value: "bob-10"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runPipeline(orders(), tt.pipeline)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunPipeline_Errors(t *testing.T) {
	tests := []struct {
		name     string
		pipeline bson.A
		code     int32
	}{
		{"unknown stage", bson.A{bson.D{{Key: "$lookup", Value: bson.D{}}}}, codeUnrecognizedPipelineStage},
		{"unknown expression", bson.A{bson.D{{Key: "$addFields", Value: bson.D{{Key: "x", Value: bson.D{{Key: "$frob", Value: int32(1)}}}}}}}, codeInvalidPipelineOperator},
		{"zero limit", bson.A{bson.D{{Key: "$limit", Value: int32(0)}}}, codeBadValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runPipeline(orders(), tt.pipeline)
			var ce mongo.CommandError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}
