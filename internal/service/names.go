package service

import (
	"hash/fnv"
	"strings"
)

var nameAdjectives = []string{
	"Amber", "Brisk", "Calm", "Dapper", "Eager", "Fuzzy", "Gentle", "Hazy",
	"Indigo", "Jolly", "Keen", "Lucky", "Mellow", "Nimble", "Olive", "Plucky",
	"Quiet", "Rusty", "Sunny", "Tidy", "Upbeat", "Velvet", "Witty", "Zesty",
}

var nameAnimals = []string{
	"Badger", "Crane", "Dingo", "Egret", "Ferret", "Gecko", "Heron", "Ibis",
	"Jackal", "Koala", "Lemur", "Marten", "Newt", "Otter", "Panda", "Quail",
	"Raven", "Stoat", "Tapir", "Urchin", "Vole", "Walrus", "Yak", "Zebra",
}

// DisplayName derives a stable human-friendly name from a visitor id
func DisplayName(vid string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vid))
	sum := h.Sum32()

	adjective := nameAdjectives[sum%uint32(len(nameAdjectives))]
	animal := nameAnimals[(sum/uint32(len(nameAdjectives)))%uint32(len(nameAnimals))]
	return adjective + " " + animal
}

// displayNameOrGenerated returns the stored name when present
func displayNameOrGenerated(vid string, stored *string) string {
	if stored != nil {
		if name := strings.TrimSpace(*stored); name != "" {
			return name
		}
	}
	return DisplayName(vid)
}
