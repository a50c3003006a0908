// Package presence keeps the in-memory view of where every character is.
// The index is rebuilt from the store at boot and mutated only after the
// corresponding store write committed, so readers never observe state the
// database does not hold.
package presence

import (
	"log/slog"
	"sync"

	"quietend-server/internal/character"
)

type Kind int

const (
	Offline Kind = iota
	AtLocation
	OnShip
	InHome
	InSubArea
	InTransit
)

// Presence is the tagged union of a character's placement. Exactly the
// fields for the active Kind are meaningful.
type Presence struct {
	Kind       Kind
	LocationID int64 // AtLocation, and the parent for InSubArea
	Status     character.LocationStatus
	ShipID     int64
	HomeID     int64
	ThreadID   string
	SessionID  string
}

// TravelRef is the slice of a travel session the index needs for rebuild
// and for the travelers-to query.
type TravelRef struct {
	SessionID     string
	UserID        string
	DestinationID int64
}

type Index struct {
	mu sync.RWMutex

	byCharacter map[string]Presence
	byLocation  map[int64]map[string]struct{}
	byShip      map[int64]map[string]struct{}
	byHome      map[int64]map[string]struct{}
	byThread    map[string]map[string]struct{}
	inbound     map[int64]map[string]struct{} // destination -> traveling characters
	loggedIn    map[string]bool
}

func NewIndex() *Index {
	return &Index{
		byCharacter: make(map[string]Presence),
		byLocation:  make(map[int64]map[string]struct{}),
		byShip:      make(map[int64]map[string]struct{}),
		byHome:      make(map[int64]map[string]struct{}),
		byThread:    make(map[string]map[string]struct{}),
		inbound:     make(map[int64]map[string]struct{}),
		loggedIn:    make(map[string]bool),
	}
}

// Rebuild replaces the whole index from committed store reads.
func (i *Index) Rebuild(characters []character.Character, traveling []TravelRef) {
	logger := slog.With("component", "presence_index", "operation", "rebuild")

	i.mu.Lock()
	defer i.mu.Unlock()

	i.byCharacter = make(map[string]Presence)
	i.byLocation = make(map[int64]map[string]struct{})
	i.byShip = make(map[int64]map[string]struct{})
	i.byHome = make(map[int64]map[string]struct{})
	i.byThread = make(map[string]map[string]struct{})
	i.inbound = make(map[int64]map[string]struct{})
	i.loggedIn = make(map[string]bool)

	inTransit := make(map[string]TravelRef, len(traveling))
	for _, ref := range traveling {
		inTransit[ref.UserID] = ref
	}

	for _, c := range characters {
		i.loggedIn[c.ID] = c.IsLoggedIn
		if ref, ok := inTransit[c.ID]; ok {
			i.setLocked(c.ID, Presence{Kind: InTransit, SessionID: ref.SessionID})
			addMember(i.inbound, ref.DestinationID, c.ID)
			continue
		}
		i.setLocked(c.ID, presenceOf(&c))
	}

	logger.Info("Presence index rebuilt",
		"characters", len(characters),
		"traveling", len(traveling),
	)
}

func presenceOf(c *character.Character) Presence {
	switch {
	case c.CurrentLocationID != nil:
		return Presence{Kind: AtLocation, LocationID: *c.CurrentLocationID, Status: c.LocationStatus}
	case c.CurrentShipID != nil:
		return Presence{Kind: OnShip, ShipID: *c.CurrentShipID}
	case c.CurrentHomeID != nil:
		return Presence{Kind: InHome, HomeID: *c.CurrentHomeID}
	case c.CurrentThreadID != nil:
		p := Presence{Kind: InSubArea, ThreadID: *c.CurrentThreadID}
		if c.ThreadLocationID != nil {
			p.LocationID = *c.ThreadLocationID
		}
		return p
	default:
		return Presence{Kind: Offline}
	}
}

// Set records a character's new presence. Call only after the matching
// store write committed.
func (i *Index) Set(characterID string, p Presence) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.setLocked(characterID, p)
	if p.Kind == InTransit {
		// inbound bookkeeping needs the destination, tracked separately by
		// SetTraveling; a bare InTransit Set clears any stale entry.
		removeFromAll(i.inbound, characterID)
	}
}

// SetTraveling records an in-transit presence with its destination for the
// travelers-to query.
func (i *Index) SetTraveling(characterID, sessionID string, destinationID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.setLocked(characterID, Presence{Kind: InTransit, SessionID: sessionID})
	addMember(i.inbound, destinationID, characterID)
}

// Redirect moves an in-transit character's inbound registration to a new
// destination (corridor diversion).
func (i *Index) Redirect(characterID string, destinationID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	removeFromAll(i.inbound, characterID)
	addMember(i.inbound, destinationID, characterID)
}

// Remove evicts a character entirely (deletion).
func (i *Index) Remove(characterID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.clearLocked(characterID)
	delete(i.byCharacter, characterID)
	delete(i.loggedIn, characterID)
}

// SetLoggedIn flips the logged-in flag without moving the character.
func (i *Index) SetLoggedIn(characterID string, loggedIn bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loggedIn[characterID] = loggedIn
}

func (i *Index) setLocked(characterID string, p Presence) {
	i.clearLocked(characterID)
	i.byCharacter[characterID] = p

	switch p.Kind {
	case AtLocation:
		addMember(i.byLocation, p.LocationID, characterID)
	case OnShip:
		addMember(i.byShip, p.ShipID, characterID)
	case InHome:
		addMember(i.byHome, p.HomeID, characterID)
	case InSubArea:
		addMember(i.byThread, p.ThreadID, characterID)
	}
}

func (i *Index) clearLocked(characterID string) {
	prev, ok := i.byCharacter[characterID]
	if !ok {
		return
	}
	switch prev.Kind {
	case AtLocation:
		removeMember(i.byLocation, prev.LocationID, characterID)
	case OnShip:
		removeMember(i.byShip, prev.ShipID, characterID)
	case InHome:
		removeMember(i.byHome, prev.HomeID, characterID)
	case InSubArea:
		removeMember(i.byThread, prev.ThreadID, characterID)
	case InTransit:
		removeFromAll(i.inbound, characterID)
	}
}

// WhereIs returns the character's presence; Offline when unknown.
func (i *Index) WhereIs(characterID string) Presence {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.byCharacter[characterID]
}

// LoggedInAt returns the logged-in characters currently at a location.
func (i *Index) LoggedInAt(locationID int64) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loggedInMembers(i.byLocation[locationID])
}

// ShipOccupants returns logged-in characters inside a ship interior.
func (i *Index) ShipOccupants(shipID int64) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loggedInMembers(i.byShip[shipID])
}

// HomeOccupants returns logged-in characters inside a home interior.
func (i *Index) HomeOccupants(homeID int64) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loggedInMembers(i.byHome[homeID])
}

// ThreadOccupants returns logged-in characters inside a sub-area.
func (i *Index) ThreadOccupants(threadID string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loggedInMembers(i.byThread[threadID])
}

// TravelersTo returns characters currently in transit toward a location.
func (i *Index) TravelersTo(locationID int64) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	members := i.inbound[locationID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (i *Index) loggedInMembers(members map[string]struct{}) []string {
	out := make([]string, 0, len(members))
	for id := range members {
		if i.loggedIn[id] {
			out = append(out, id)
		}
	}
	return out
}

func addMember[K comparable](m map[K]map[string]struct{}, key K, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeMember[K comparable](m map[K]map[string]struct{}, key K, id string) {
	if set, ok := m[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func removeFromAll[K comparable](m map[K]map[string]struct{}, id string) {
	for key, set := range m {
		if _, ok := set[id]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m, key)
			}
		}
	}
}
