package redisstore

import "fmt"

// Keys and channels are namespaced so several deployments can share one
// Redis server.
//
// Document: retro:{namespace}:{collection}:doc:{id}
// Id set:   retro:{namespace}:{collection}:ids
// Index:    retro:{namespace}:{collection}:idx:{field}:{value}
// Channel:  retro:{namespace}:{collection}:changes

func docKey(namespace, collection, id string) string {
	return fmt.Sprintf("retro:%s:%s:doc:%s", namespace, collection, id)
}

func idsKey(namespace, collection string) string {
	return fmt.Sprintf("retro:%s:%s:ids", namespace, collection)
}

func changesChannel(namespace, collection string) string {
	return fmt.Sprintf("retro:%s:%s:changes", namespace, collection)
}

func indexKey(namespace, collection, field, value string) string {
	return fmt.Sprintf("retro:%s:%s:idx:%s:%s", namespace, collection, field, value)
}
