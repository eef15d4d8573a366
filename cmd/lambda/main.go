package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/christophergentle/postbot/internal/app"
	"github.com/christophergentle/postbot/internal/config"
	lambdapkg "github.com/christophergentle/postbot/internal/lambda"
	"github.com/christophergentle/postbot/internal/logging"
)

// Runs one daily cycle per EventBridge invocation. The queue files must live
// on persistent storage (an EFS mount) and the ledger should use DynamoDB.
// quota * post_delay must fit in the function timeout; 17 posts at 45s each
// suit the 15 minute maximum.
func main() {
	log := logging.New(os.Getenv("LOG_LEVEL"), "json", "postbot-lambda")

	configPath := os.Getenv("POSTBOT_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath
	}

	handler := lambdapkg.NewHandler(func(ctx context.Context) (lambdapkg.CycleRunner, error) {
		cfg, err := app.LoadConfig(ctx, configPath)
		if err != nil {
			return nil, err
		}
		bot, err := app.Build(ctx, cfg, log, nil)
		if err != nil {
			return nil, err
		}
		return bot.Scheduler, nil
	}, lambdapkg.DefaultGrace, log)

	lambda.Start(handler.HandleRequest)
}
