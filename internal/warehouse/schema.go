package warehouse

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"halo-tracker/internal/domain"
)

// FactSchema is the Arrow schema for match_facts partitions. Field order is
// the on-disk column order; decode goes by name so projections stay cheap.
func FactSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "match_id", Type: arrow.BinaryTypes.String},
		{Name: "xuid", Type: arrow.BinaryTypes.String},
		{Name: "start_time", Type: arrow.FixedWidthTypes.Timestamp_us},
		{Name: "year", Type: arrow.PrimitiveTypes.Int32},
		{Name: "month", Type: arrow.PrimitiveTypes.Int32},
		{Name: "playlist_asset_id", Type: arrow.BinaryTypes.String},
		{Name: "map_asset_id", Type: arrow.BinaryTypes.String},
		{Name: "game_variant_asset_id", Type: arrow.BinaryTypes.String},
		{Name: "outcome", Type: arrow.PrimitiveTypes.Int32},
		{Name: "rank", Type: arrow.PrimitiveTypes.Int32},
		{Name: "duration_seconds", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "kills", Type: arrow.PrimitiveTypes.Int32},
		{Name: "deaths", Type: arrow.PrimitiveTypes.Int32},
		{Name: "assists", Type: arrow.PrimitiveTypes.Int32},
		{Name: "betrayals", Type: arrow.PrimitiveTypes.Int32},
		{Name: "suicides", Type: arrow.PrimitiveTypes.Int32},
		{Name: "kda", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "accuracy", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "shots_fired", Type: arrow.PrimitiveTypes.Int32},
		{Name: "shots_hit", Type: arrow.PrimitiveTypes.Int32},
		{Name: "damage_dealt", Type: arrow.PrimitiveTypes.Int32},
		{Name: "damage_taken", Type: arrow.PrimitiveTypes.Int32},
		{Name: "score", Type: arrow.PrimitiveTypes.Int32},
		{Name: "team_id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "medal_count", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
}

// MedalSchema is the Arrow schema for medals partitions.
func MedalSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "match_id", Type: arrow.BinaryTypes.String},
		{Name: "xuid", Type: arrow.BinaryTypes.String},
		{Name: "medal_name_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "count", Type: arrow.PrimitiveTypes.Int32},
		{Name: "year", Type: arrow.PrimitiveTypes.Int32},
		{Name: "month", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
}

func appendFactRow(b *array.RecordBuilder, f domain.MatchFact) {
	b.Field(0).(*array.StringBuilder).Append(f.MatchID)
	b.Field(1).(*array.StringBuilder).Append(f.XUID)
	b.Field(2).(*array.TimestampBuilder).Append(arrow.Timestamp(f.StartTime.UTC().UnixMicro()))
	b.Field(3).(*array.Int32Builder).Append(f.Year)
	b.Field(4).(*array.Int32Builder).Append(f.Month)
	b.Field(5).(*array.StringBuilder).Append(f.PlaylistAssetID)
	b.Field(6).(*array.StringBuilder).Append(f.MapAssetID)
	b.Field(7).(*array.StringBuilder).Append(f.GameVariantAssetID)
	b.Field(8).(*array.Int32Builder).Append(int32(f.Outcome))
	b.Field(9).(*array.Int32Builder).Append(f.Rank)
	appendNullableFloat(b.Field(10).(*array.Float64Builder), f.DurationSeconds)
	b.Field(11).(*array.Int32Builder).Append(f.Kills)
	b.Field(12).(*array.Int32Builder).Append(f.Deaths)
	b.Field(13).(*array.Int32Builder).Append(f.Assists)
	b.Field(14).(*array.Int32Builder).Append(f.Betrayals)
	b.Field(15).(*array.Int32Builder).Append(f.Suicides)
	appendNullableFloat(b.Field(16).(*array.Float64Builder), f.KDA)
	appendNullableFloat(b.Field(17).(*array.Float64Builder), f.Accuracy)
	b.Field(18).(*array.Int32Builder).Append(f.ShotsFired)
	b.Field(19).(*array.Int32Builder).Append(f.ShotsHit)
	b.Field(20).(*array.Int32Builder).Append(f.DamageDealt)
	b.Field(21).(*array.Int32Builder).Append(f.DamageTaken)
	b.Field(22).(*array.Int32Builder).Append(f.Score)
	b.Field(23).(*array.Int32Builder).Append(f.TeamID)
	b.Field(24).(*array.Int32Builder).Append(f.MedalCount)
}

func appendMedalRow(b *array.RecordBuilder, m domain.MedalAward) {
	b.Field(0).(*array.StringBuilder).Append(m.MatchID)
	b.Field(1).(*array.StringBuilder).Append(m.XUID)
	b.Field(2).(*array.Int64Builder).Append(m.MedalNameID)
	b.Field(3).(*array.Int32Builder).Append(m.Count)
	b.Field(4).(*array.Int32Builder).Append(m.Year)
	b.Field(5).(*array.Int32Builder).Append(m.Month)
}

func appendNullableFloat(b *array.Float64Builder, v *float64) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(*v)
}

// decodeFactRecord appends one Arrow record batch onto dst, matching columns
// by name so projected reads leave unrequested fields at their zero value.
func decodeFactRecord(dst []domain.MatchFact, rec arrow.Record) []domain.MatchFact {
	n := int(rec.NumRows())
	base := len(dst)
	dst = append(dst, make([]domain.MatchFact, n)...)
	rows := dst[base:]

	for ci, field := range rec.Schema().Fields() {
		col := rec.Column(ci)
		switch field.Name {
		case "match_id":
			arr := col.(*array.String)
			for i := 0; i < n; i++ {
				rows[i].MatchID = arr.Value(i)
			}
		case "xuid":
			arr := col.(*array.String)
			for i := 0; i < n; i++ {
				rows[i].XUID = arr.Value(i)
			}
		case "start_time":
			arr := col.(*array.Timestamp)
			for i := 0; i < n; i++ {
				rows[i].StartTime = time.UnixMicro(int64(arr.Value(i))).UTC()
			}
		case "year":
			copyInt32(col, n, func(i int, v int32) { rows[i].Year = v })
		case "month":
			copyInt32(col, n, func(i int, v int32) { rows[i].Month = v })
		case "playlist_asset_id":
			arr := col.(*array.String)
			for i := 0; i < n; i++ {
				rows[i].PlaylistAssetID = arr.Value(i)
			}
		case "map_asset_id":
			arr := col.(*array.String)
			for i := 0; i < n; i++ {
				rows[i].MapAssetID = arr.Value(i)
			}
		case "game_variant_asset_id":
			arr := col.(*array.String)
			for i := 0; i < n; i++ {
				rows[i].GameVariantAssetID = arr.Value(i)
			}
		case "outcome":
			copyInt32(col, n, func(i int, v int32) { rows[i].Outcome = domain.Outcome(v) })
		case "rank":
			copyInt32(col, n, func(i int, v int32) { rows[i].Rank = v })
		case "duration_seconds":
			copyNullableFloat(col, n, func(i int, v *float64) { rows[i].DurationSeconds = v })
		case "kills":
			copyInt32(col, n, func(i int, v int32) { rows[i].Kills = v })
		case "deaths":
			copyInt32(col, n, func(i int, v int32) { rows[i].Deaths = v })
		case "assists":
			copyInt32(col, n, func(i int, v int32) { rows[i].Assists = v })
		case "betrayals":
			copyInt32(col, n, func(i int, v int32) { rows[i].Betrayals = v })
		case "suicides":
			copyInt32(col, n, func(i int, v int32) { rows[i].Suicides = v })
		case "kda":
			copyNullableFloat(col, n, func(i int, v *float64) { rows[i].KDA = v })
		case "accuracy":
			copyNullableFloat(col, n, func(i int, v *float64) { rows[i].Accuracy = v })
		case "shots_fired":
			copyInt32(col, n, func(i int, v int32) { rows[i].ShotsFired = v })
		case "shots_hit":
			copyInt32(col, n, func(i int, v int32) { rows[i].ShotsHit = v })
		case "damage_dealt":
			copyInt32(col, n, func(i int, v int32) { rows[i].DamageDealt = v })
		case "damage_taken":
			copyInt32(col, n, func(i int, v int32) { rows[i].DamageTaken = v })
		case "score":
			copyInt32(col, n, func(i int, v int32) { rows[i].Score = v })
		case "team_id":
			copyInt32(col, n, func(i int, v int32) { rows[i].TeamID = v })
		case "medal_count":
			copyInt32(col, n, func(i int, v int32) { rows[i].MedalCount = v })
		}
	}
	return dst
}

func decodeMedalRecord(dst []domain.MedalAward, rec arrow.Record) []domain.MedalAward {
	n := int(rec.NumRows())
	base := len(dst)
	dst = append(dst, make([]domain.MedalAward, n)...)
	rows := dst[base:]

	for ci, field := range rec.Schema().Fields() {
		col := rec.Column(ci)
		switch field.Name {
		case "match_id":
			arr := col.(*array.String)
			for i := 0; i < n; i++ {
				rows[i].MatchID = arr.Value(i)
			}
		case "xuid":
			arr := col.(*array.String)
			for i := 0; i < n; i++ {
				rows[i].XUID = arr.Value(i)
			}
		case "medal_name_id":
			arr := col.(*array.Int64)
			for i := 0; i < n; i++ {
				rows[i].MedalNameID = arr.Value(i)
			}
		case "count":
			copyInt32(col, n, func(i int, v int32) { rows[i].Count = v })
		case "year":
			copyInt32(col, n, func(i int, v int32) { rows[i].Year = v })
		case "month":
			copyInt32(col, n, func(i int, v int32) { rows[i].Month = v })
		}
	}
	return dst
}

func copyInt32(col arrow.Array, n int, set func(int, int32)) {
	arr := col.(*array.Int32)
	for i := 0; i < n; i++ {
		set(i, arr.Value(i))
	}
}

func copyNullableFloat(col arrow.Array, n int, set func(int, *float64)) {
	arr := col.(*array.Float64)
	for i := 0; i < n; i++ {
		if arr.IsNull(i) {
			set(i, nil)
			continue
		}
		v := arr.Value(i)
		set(i, &v)
	}
}
