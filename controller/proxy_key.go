package controller

import (
	"strconv"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/model"
)

func GetAllProxyKeys(c *gin.Context) {
	offset, limit := pageParams(c)
	keys, err := model.GetAllProxyKeys(offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, keys)
}

func GetProxyKey(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid key id"))
		return
	}
	key, err := model.GetProxyKeyById(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, key)
}

func AddProxyKey(c *gin.Context) {
	var key model.ProxyKey
	if err := c.ShouldBindJSON(&key); err != nil {
		respondError(c, errors.Wrap(err, "invalid key payload"))
		return
	}
	if key.Status == 0 {
		key.Status = model.ProxyKeyStatusEnabled
	}
	key.Key = "" // secrets are always generated server-side
	if err := key.Insert(); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, key)
}

func UpdateProxyKey(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid key id"))
		return
	}
	var key model.ProxyKey
	if err := c.ShouldBindJSON(&key); err != nil {
		respondError(c, errors.Wrap(err, "invalid key payload"))
		return
	}
	key.Id = id
	if err := key.Update(); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, key)
}

// RegenerateProxyKey rotates the secret; the previous value stops
// authenticating immediately.
func RegenerateProxyKey(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid key id"))
		return
	}
	key, err := model.GetProxyKeyById(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := key.Regenerate(); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, key)
}

func DeleteProxyKey(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid key id"))
		return
	}
	key, err := model.GetProxyKeyById(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := key.Delete(); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, nil)
}
