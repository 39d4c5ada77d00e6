package logsink

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// Sink 检测记录的落地后端。
type Sink interface {
	Write(ctx context.Context, record DetectionRecord) error
}

// ZapSink 把检测记录写进结构化日志，默认后端。
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink 创建日志后端。
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.With(zap.String("component", "detection_log"))}
}

func (s *ZapSink) Write(ctx context.Context, record DetectionRecord) error {
	s.logger.Info("detection result",
		zap.String("request_id", record.RequestID),
		zap.String("tenant_id", record.TenantID),
		zap.String("application_id", record.ApplicationID),
		zap.String("direction", string(record.Direction)),
		zap.String("overall_risk_level", string(record.OverallRiskLevel)),
		zap.String("suggest_action", string(record.SuggestAction)),
		zap.Strings("compliance_categories", record.ComplianceCategories),
		zap.Strings("security_categories", record.SecurityCategories),
		zap.Strings("data_categories", record.DataCategories),
		zap.Bool("has_image", record.HasImage),
	)
	return nil
}

// MongoSink 把检测记录写入 MongoDB 集合。
type MongoSink struct {
	collection *mongo.Collection
}

// NewMongoSink 创建 Mongo 后端。
func NewMongoSink(collection *mongo.Collection) *MongoSink {
	return &MongoSink{collection: collection}
}

func (s *MongoSink) Write(ctx context.Context, record DetectionRecord) error {
	_, err := s.collection.InsertOne(ctx, record)
	return err
}
