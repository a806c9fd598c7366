package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/cablegram/cable"
	"github.com/facebookgo/httpdown"
	"go.uber.org/zap"
)

func main() {
	// Prepare the stoppable HTTP server
	server := &http.Server{
		Addr: "127.0.0.1:8081",
	}
	hd := &httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: 1 * time.Second,
	}

	flag.StringVar(&server.Addr, "addr", server.Addr, "http service address")
	flag.DurationVar(&hd.StopTimeout, "stop-timeout", hd.StopTimeout, "stop timeout")
	flag.DurationVar(&hd.KillTimeout, "kill-timeout", hd.KillTimeout, "kill timeout")
	origin := flag.String("origin", "", "websocket server checks Origin headers against this scheme://host[:port]")
	heartbeat := flag.Duration("heartbeat", 0, "liveness ping interval (0 uses the default)")
	tick := flag.Duration("metrics.tick", 60*time.Second, "metrics: duration between reports")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	srv := cable.NewServer(logger)
	srv.SetAllowedOrigin(*origin)
	if *heartbeat > 0 {
		srv.SetHeartbeat(*heartbeat)
	}
	registerChannels(srv)

	cable.StartMetrics(*tick)
	defer cable.FinalMetrics()

	// Start the server
	server.Handler = srv.Handler()
	if err := httpdown.ListenAndServe(server, hd); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func registerChannels(srv *cable.Server) {
	srv.RegisterChannel(chatChannel(srv))
	srv.RegisterChannel(appearanceChannel(srv))
	srv.RegisterChannel(debugChannel(srv))
}

// chatChannel relays one room's messages: subscribers stream the room's
// topic and the speak action broadcasts into it.
func chatChannel(srv *cable.Server) *cable.ChannelType {
	return &cable.ChannelType{
		Name: "ChatChannel",
		Subscribed: func(ch *cable.Channel) error {
			room := ch.Params().String("room")
			if room == "" {
				room = "lobby"
			}
			ch.Set("room", room)
			ch.StreamFrom("chat/"+room, nil)
			return nil
		},
		Actions: map[string]cable.ActionFunc{
			"speak": func(ch *cable.Channel, data cable.Data) {
				room, _ := ch.Get("room")
				srv.Broadcast("chat/"+room.(string), map[string]any{
					"from":    ch.Identity()["user"],
					"content": data.String("content"),
				})
			},
		},
	}
}

// appearanceChannel announces presence transitions on a shared topic.
func appearanceChannel(srv *cable.Server) *cable.ChannelType {
	announce := func(ch *cable.Channel, status string) {
		srv.Broadcast("appearances", map[string]any{
			"user":   ch.Identity()["user"],
			"status": status,
		})
	}
	return &cable.ChannelType{
		Name: "AppearanceChannel",
		Subscribed: func(ch *cable.Channel) error {
			ch.StreamFrom("appearances", nil)
			announce(ch, "online")
			return nil
		},
		Unsubscribed: func(ch *cable.Channel) {
			announce(ch, "offline")
		},
		Actions: map[string]cable.ActionFunc{
			"appear": func(ch *cable.Channel, data cable.Data) {
				announce(ch, "online")
			},
			"away": func(ch *cable.Channel, data cable.Data) {
				announce(ch, "away")
			},
		},
	}
}

// debugChannel backs the HTML debug client: it streams whatever topic the
// subscriber names and echoes speak actions into it.
func debugChannel(srv *cable.Server) *cable.ChannelType {
	return &cable.ChannelType{
		Name: "DebugChannel",
		Subscribed: func(ch *cable.Channel) error {
			topic := ch.Params().String("topic")
			if topic == "" {
				return cable.ErrRejected
			}
			ch.Set("topic", topic)
			ch.StreamFrom(topic, nil)
			return nil
		},
		Actions: map[string]cable.ActionFunc{
			"speak": func(ch *cable.Channel, data cable.Data) {
				topic, _ := ch.Get("topic")
				srv.Broadcast(topic.(string), data.String("content"))
			},
		},
	}
}
