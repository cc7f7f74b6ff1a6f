// watsonctl 一次性动作 CLI：外呼一通电话，或发送一条短信。
// 失败直接报告给操作者并以非零码退出，不做内部重试。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"watson-voice/server/internal/config"
	"watson-voice/server/internal/telephony"
)

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "call":
		runCall(os.Args[2:])
	case "sms":
		runSMS(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  watsonctl call -to <number> [-message <text> | -handler-url <url>] [-provider twilio|yay]
  watsonctl sms  -to <number> -body <text> [-provider twilio|yay]`)
	os.Exit(2)
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	return cfg
}

func runCall(args []string) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	configPath := fs.String("config", "server/configs/config.yaml", "config file path")
	provider := fs.String("provider", "twilio", "telephony provider: twilio or yay")
	to := fs.String("to", "", "destination number (E.164)")
	from := fs.String("from", "", "source number (defaults to configured number)")
	message := fs.String("message", "", "one-way TTS announcement (no conversation)")
	handlerURL := fs.String("handler-url", "", "webhook URL for a full conversational call")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *to == "" {
		log.Fatalf("-to is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch *provider {
	case "twilio":
		source := *from
		if source == "" {
			source = cfg.Twilio.PhoneNumber
		}
		client := telephony.NewTwilioClient(cfg.Twilio)
		sid, err := client.PlaceCall(ctx, *to, source, telephony.CallOptions{
			Message:    *message,
			HandlerURL: *handlerURL,
		})
		if err != nil {
			log.Fatalf("call failed: %v", err)
		}
		fmt.Printf("call initiated: %s\n", sid)

	case "yay":
		client := telephony.NewYayClient(cfg.Yay)
		err := client.PlaceCall(ctx, *to, telephony.YayCallOptions{
			UserUUID:     cfg.Yay.UserUUID,
			CallerIDUUID: cfg.Yay.CallerIDUUID,
		})
		if err != nil {
			log.Fatalf("call failed: %v", err)
		}
		fmt.Println("call initiated")

	default:
		log.Fatalf("unknown provider: %s", *provider)
	}
}

func runSMS(args []string) {
	fs := flag.NewFlagSet("sms", flag.ExitOnError)
	configPath := fs.String("config", "server/configs/config.yaml", "config file path")
	provider := fs.String("provider", "twilio", "telephony provider: twilio or yay")
	to := fs.String("to", "", "destination number (E.164)")
	from := fs.String("from", "", "source number (defaults to configured number)")
	body := fs.String("body", "", "message text")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *to == "" || *body == "" {
		log.Fatalf("-to and -body are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch *provider {
	case "twilio":
		source := *from
		if source == "" {
			source = cfg.Twilio.PhoneNumber
		}
		client := telephony.NewTwilioClient(cfg.Twilio)
		sid, err := client.SendSMS(ctx, *to, source, *body)
		if err != nil {
			log.Fatalf("sms failed: %v", err)
		}
		fmt.Printf("sms sent: %s\n", sid)

	case "yay":
		source := *from
		if source == "" {
			source = cfg.Yay.PhoneNumber
		}
		client := telephony.NewYayClient(cfg.Yay)
		if err := client.SendSMS(ctx, *to, source, *body); err != nil {
			log.Fatalf("sms failed: %v", err)
		}
		fmt.Println("sms sent")

	default:
		log.Fatalf("unknown provider: %s", *provider)
	}
}
