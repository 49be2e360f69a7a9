// oam-demo runs a simulated processing plant that reports its topology,
// metrics, notifications, task reports and subscriptions to an oam-bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaonanln/oambridge/bridgeapi"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/reporter"
)

func main() {
	bridgeAddr := flag.String("bridge-addr", "localhost:9470", "oam-bridge gRPC address")
	plantName := flag.String("plant", "Demo.Plant", "Participant name of the simulated plant")
	numWUPs := flag.Int("wups", 3, "Number of WUPs in the simulated workshop")
	interval := flag.Duration("interval", 5*time.Second, "Reporting interval")
	failureRate := flag.Float64("failure-rate", 0.1, "Probability that a simulated task fails")
	flag.Parse()

	plant := demoPlant(*plantName, *numWUPs)
	r := reporter.New(*bridgeAddr, bridgeapi.Caller{
		ParticipantName: plant.ParticipantName,
		ComponentID:     plant.ComponentID,
		ComponentType:   plant.ComponentType,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Start(ctx); err != nil {
		log.Printf("Bridge at %s not reachable yet, will keep retrying: %v", *bridgeAddr, err)
	}
	defer r.Stop()
	if err := r.ReportTopology(plant); err != nil {
		log.Printf("Topology queued for the next connection: %v", err)
	}

	log.Printf("Simulating %s with %d WUPs, reporting every %v", *plantName, *numWUPs, *interval)
	sim := &simulation{
		reporter:    r,
		plant:       plant,
		failureRate: *failureRate,
		processed:   make(map[string]int),
	}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down")
			return
		case <-ticker.C:
			sim.step()
		}
	}
}

func demoPlant(name string, numWUPs int) model.ComponentSummary {
	workshop := model.ComponentSummary{
		ComponentID:     "workshop-1",
		ParticipantName: name + ".Transform",
		DisplayName:     "Transform",
		ComponentType:   model.ComponentWorkshop,
	}
	for i := 1; i <= numWUPs; i++ {
		wupName := fmt.Sprintf("%s.WUP%d", workshop.ParticipantName, i)
		workshop.Children = append(workshop.Children, model.ComponentSummary{
			ComponentID:     fmt.Sprintf("wup-%d", i),
			ParticipantName: wupName,
			DisplayName:     fmt.Sprintf("WUP %d", i),
			ComponentType:   model.ComponentWUP,
			Children: []model.ComponentSummary{{
				ComponentID:     fmt.Sprintf("endpoint-%d", i),
				ParticipantName: wupName + ".MLLP",
				DisplayName:     "MLLP endpoint",
				ComponentType:   model.ComponentEndpoint,
			}},
		})
	}
	return model.ComponentSummary{
		ComponentID:     "plant-1",
		ParticipantName: name,
		DisplayName:     name,
		ComponentType:   model.ComponentProcessingPlant,
		Children:        []model.ComponentSummary{workshop},
	}
}

type simulation struct {
	reporter    *reporter.Reporter
	plant       model.ComponentSummary
	failureRate float64
	processed   map[string]int
	tick        int
}

func (s *simulation) step() {
	s.tick++
	now := time.Now()

	for _, wup := range s.plant.Children[0].Children {
		s.processed[wup.ComponentID] += rand.Intn(50)
		err := s.reporter.ReportMetrics(&model.MetricSet{
			SourceComponentID: wup.ComponentID,
			ParticipantName:   wup.ParticipantName,
			ComponentType:     wup.ComponentType,
			ReportingInstant:  now,
			Metrics: map[string]any{
				"processed":      s.processed[wup.ComponentID],
				"queue-depth":    rand.Intn(10),
				"last-activity":  now.Format(time.RFC3339),
				"average-millis": 5 + rand.Float64()*20,
			},
		})
		logIfFailed("metrics", err)

		endpoint := wup.Children[0]
		outcome := model.NotificationSuccess
		if rand.Float64() < s.failureRate {
			outcome = model.NotificationFailure
		}
		taskID := fmt.Sprintf("%s-task-%d", wup.ComponentID, s.tick)
		logIfFailed("task report", s.reporter.ReportTask(model.TaskReport{
			TaskID:          taskID,
			ParticipantName: endpoint.ParticipantName,
			ComponentID:     endpoint.ComponentID,
			ComponentType:   endpoint.ComponentType,
			Outcome:         outcome,
			Content:         fmt.Sprintf("Task %s %s", taskID, outcome),
			Instant:         now,
		}))
		if outcome == model.NotificationFailure {
			logIfFailed("notification", s.reporter.Notify(model.Notification{
				ParticipantName: wup.ParticipantName,
				ComponentID:     wup.ComponentID,
				ComponentType:   wup.ComponentType,
				Type:            model.NotificationFailure,
				Title:           "Processing failure",
				Content:         fmt.Sprintf("%s failed on %s", taskID, endpoint.ParticipantName),
				Instant:         now,
			}))
		}
	}

	if s.tick%10 == 1 {
		logIfFailed("subscriptions", s.reporter.ShareSubscriptions(model.SubscriptionSummary{
			ParticipantName: s.plant.ParticipantName,
			ComponentID:     s.plant.ComponentID,
			AsSubscriber: []model.SubscriptionEntry{
				{Counterpart: "Hub", Topic: "ADT", Since: now},
			},
			AsPublisher: []model.SubscriptionEntry{
				{Counterpart: "Archive", Topic: "ORU", Since: now},
			},
			ReportedAt: now,
		}))
	}
}

func logIfFailed(what string, err error) {
	if err != nil {
		log.Printf("Failed to report %s: %v", what, err)
	}
}
