package engine

const (
	EV_TYPE_EPOLL      = 1
	EV_TYPE_TIMER_DELY = 2
)

type Event struct {
	Ident     int // identifier of this event, usually file descriptor
	Ev        int // event mark
	Type      int // 1 epoll 2 timer dely
	TimeStamp int64
	Flag      int64 // generation of the connection the event was scheduled for
}
