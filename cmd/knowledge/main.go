package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/database"
	"github.com/aihub/knowledge-go/internal/di"
	"github.com/aihub/knowledge-go/internal/kafka"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/services"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	container, err := di.NewContainer()
	if err != nil {
		logger.Fatal("依赖注入容器初始化失败", zap.Error(err))
	}

	err = container.Invoke(func(db *database.Database, indexing *services.IndexingService, scheduler *services.Scheduler, producer *kafka.Producer) error {
		monitorCtx, cancelMonitor := context.WithCancel(context.Background())
		defer cancelMonitor()
		db.StartMonitoring(monitorCtx)
		defer db.StopMonitoring()
		defer db.Close()

		scheduler.Start()
		defer scheduler.Stop()

		var consumer *kafka.Consumer
		cfg := config.AppConfig
		if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
			consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{cfg.Kafka.Topic})
			if err != nil {
				logger.Warn("Kafka消费者启动失败，仅处理本地任务", zap.Error(err))
			} else {
				consumer.RegisterHandler(cfg.Kafka.Topic, func(ctx context.Context, message *sarama.ConsumerMessage) error {
					evt, err := kafka.ParseDocumentEvent(message.Value)
					if err != nil {
						return err
					}
					return indexing.HandleDocumentEvent(ctx, evt)
				})
				consumer.Start()
				defer consumer.Close()
			}
		}
		if producer != nil {
			defer producer.Close()
		}

		logger.Info("知识库索引服务启动", zap.String("env", cfg.Server.Env))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("收到退出信号，正在关闭")
		return nil
	})
	if err != nil {
		logger.Fatal("服务运行失败", zap.Error(err))
	}
}
