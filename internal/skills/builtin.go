package skills

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"squire/internal/bgtask"
)

// TaskToggler is the part of the background task store the skills need.
type TaskToggler interface {
	Enable() (bgtask.Toggle, error)
	Disable() (bgtask.Toggle, error)
	State() bgtask.State
}

// SpeedRunner runs an internet speed test.
type SpeedRunner interface {
	Run(ctx context.Context) (*SpeedResult, error)
}

type Deps struct {
	Title    string
	Version  string
	Location *time.Location
	Tasks    TaskToggler
	Speed    SpeedRunner
	Now      func() time.Time
	Rand     *rand.Rand
}

// Builtin returns the registry of handlers shipped with squire.
// Other compatible commands resolve to nothing and are reported as such.
func Builtin(d Deps) *Registry {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	b := &builtins{Deps: d}

	r := NewRegistry(
		Skill{Name: "version", Keywords: Keywords["version"], Handler: b.version},
		Skill{Name: "background_tasks", Keywords: Keywords["background_tasks"], Handler: b.backgroundTasks},
		Skill{Name: "speed_test", Keywords: Keywords["speed_test"], Handler: b.speedTest},
		Skill{Name: "flip_a_coin", Keywords: Keywords["flip_a_coin"], Handler: b.flipCoin},
		Skill{Name: "current_date", Keywords: Keywords["current_date"], Handler: b.currentDate},
		Skill{Name: "current_time", Keywords: Keywords["current_time"], Handler: b.currentTime},
	)
	for _, g := range conversationGroups {
		r.Register(Skill{Name: "conversation." + g, Keywords: Conversation[g], Handler: b.conversation(g)})
	}
	return r
}

type builtins struct {
	Deps
	mu sync.Mutex // Rand is not safe for concurrent use
}

func (b *builtins) pick(options ...string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return options[b.Rand.Intn(len(options))]
}

func (b *builtins) now() time.Time { return b.Now().In(b.Location) }

func (b *builtins) version(context.Context, []string) (string, error) {
	v := b.Version
	if v == "" {
		v = "dev"
	}
	return fmt.Sprintf("I'm running version %s %s!", v, b.Title), nil
}

func (b *builtins) currentTime(context.Context, []string) (string, error) {
	return fmt.Sprintf("The current time is %s.", b.now().Format("3:04 PM")), nil
}

func (b *builtins) currentDate(context.Context, []string) (string, error) {
	now := b.now()
	return fmt.Sprintf("It's %s %s, %d.", now.Format("Monday, January"), ordinal(now.Day()), now.Year()), nil
}

func (b *builtins) flipCoin(context.Context, []string) (string, error) {
	return fmt.Sprintf("%s %s %s", b.pick("You got", "It landed on", "It's"), b.pick("heads", "tails"), b.Title), nil
}

func (b *builtins) backgroundTasks(_ context.Context, args []string) (string, error) {
	if b.Tasks == nil {
		return "", fmt.Errorf("background tasks are not configured")
	}
	phrase := strings.ToLower(strings.Join(args, " "))
	var (
		res bgtask.Toggle
		err error
	)
	switch {
	case strings.Contains(phrase, "disable"):
		res, err = b.Tasks.Disable()
	case strings.Contains(phrase, "enable"):
		res, err = b.Tasks.Enable()
	default:
		return fmt.Sprintf("Background tasks are %s %s.", b.Tasks.State(), b.Title), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s!", res.Message(), b.Title), nil
}

func (b *builtins) speedTest(ctx context.Context, _ []string) (string, error) {
	if b.Speed == nil {
		return "", fmt.Errorf("speed test is not available")
	}
	res, err := b.Speed.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("speed test failed: %w", err)
	}
	return res.Summary(b.Title), nil
}

func (b *builtins) conversation(group string) func(context.Context, []string) (string, error) {
	return func(context.Context, []string) (string, error) {
		switch group {
		case "greeting":
			return b.pick("I am spectacular. I hope you're doing fine too.", "I am doing well. Thank you.", "I am great. Thank you."), nil
		case "capabilities":
			return "There is a lot I can do. I can tell the time and date, flip a coin, run an internet speed test, " +
				"and keep your background tasks running on schedule.", nil
		case "languages":
			return "Tricky question! I'm configured in english and I can only reply in english.", nil
		case "what":
			return "I'm just a pre-programmed virtual assistant.", nil
		case "who":
			return "I am squire. A virtual assistant designed by my owner.", nil
		case "age":
			return "I'm just a program, I don't age like humans do.", nil
		case "form":
			return "I'm a stand-alone program, I don't have a physical form.", nil
		case "whats_up":
			return "My listeners are up. There is nothing I cannot process. So ask me anything.", nil
		case "about_me":
			return "I'm squire. A virtual assistant that runs your commands even when you can't talk to me.", nil
		}
		return "", fmt.Errorf("no reply for %s", group)
	}
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
